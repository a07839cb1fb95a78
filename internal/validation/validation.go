// Package validation provides input validation for cube names, dimension
// names, and creation parameters arriving over the wire.
package validation

import (
	"fmt"
	"strings"

	"github.com/TobiasJacob/cube-store/internal/errors"
)

// MaxNameLength bounds cube and dimension names.
const MaxNameLength = 128

// CubeName validates a cube name. Names become directory names under the
// data directory, so path separators and traversal sequences are rejected.
func CubeName(name string) error {
	if name == "" {
		return errors.Wrap(errors.ErrInvalidName, "empty cube name")
	}
	if len(name) > MaxNameLength {
		return errors.Wrapf(errors.ErrInvalidName, "cube name longer than %d characters", MaxNameLength)
	}
	if name == "." || name == ".." {
		return errors.Wrapf(errors.ErrInvalidName, "cube name %q", name)
	}
	for _, r := range name {
		if !isNameRune(r) {
			return errors.Wrapf(errors.ErrInvalidName, "cube name %q contains %q", name, r)
		}
	}
	return nil
}

// DimName validates a dimension name. Dimension names share an index
// expression namespace with coordinate labels, so they follow the same
// character rules as cube names.
func DimName(name string) error {
	if name == "" {
		return errors.Wrap(errors.ErrInvalidName, "empty dimension name")
	}
	if len(name) > MaxNameLength {
		return errors.Wrapf(errors.ErrInvalidName, "dimension name longer than %d characters", MaxNameLength)
	}
	if strings.ContainsAny(name, "/\\") {
		return errors.Wrapf(errors.ErrInvalidName, "dimension name %q", name)
	}
	return nil
}

// Shape validates a shape: every extent must be non-negative.
func Shape(shape []int) error {
	for i, s := range shape {
		if s < 0 {
			return errors.Wrapf(errors.ErrInvalidShape, "axis %d has negative extent %d", i, s)
		}
	}
	return nil
}

// ChunkShape validates a chunk shape against a cube shape.
func ChunkShape(chunkShape, shape []int) error {
	if chunkShape == nil {
		return nil
	}
	if len(chunkShape) != len(shape) {
		return errors.Wrapf(errors.ErrInvalidShape,
			"chunk shape has %d axes, cube has %d", len(chunkShape), len(shape))
	}
	for i, c := range chunkShape {
		if c < 1 {
			return errors.Wrapf(errors.ErrInvalidShape, "chunk extent %d on axis %d", c, i)
		}
	}
	return nil
}

func isNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_', r == '-', r == '.':
		return true
	default:
		return false
	}
}

// DimNames validates a full dimension name list for a shape.
func DimNames(names []string, ndim int) error {
	if names == nil {
		return nil
	}
	if len(names) != ndim {
		return errors.Wrapf(errors.ErrInvalidName, "%d dimension names for %d dimensions", len(names), ndim)
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if err := DimName(n); err != nil {
			return err
		}
		if seen[n] {
			return errors.Wrapf(errors.ErrInvalidName, "duplicate dimension name %q", n)
		}
		seen[n] = true
	}
	return nil
}

// CoordLabels validates per-dimension coordinate labels against a shape.
func CoordLabels(labels [][]string, shape []int) error {
	if labels == nil {
		return nil
	}
	if len(labels) != len(shape) {
		return errors.Wrapf(errors.ErrInvalidShape,
			"%d label sets for %d dimensions", len(labels), len(shape))
	}
	for d, ls := range labels {
		if ls == nil {
			continue
		}
		if len(ls) != shape[d] {
			return fmt.Errorf("dimension %d: %d labels for extent %d: %w",
				d, len(ls), shape[d], errors.ErrInvalidShape)
		}
		seen := make(map[string]bool, len(ls))
		for _, l := range ls {
			if seen[l] {
				return errors.Wrapf(errors.ErrInvalidName, "duplicate coordinate label %q on dimension %d", l, d)
			}
			seen[l] = true
		}
	}
	return nil
}
