package cube

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/TobiasJacob/cube-store/internal/errors"
)

// MetaFileName is the per-cube metadata record inside the cube's directory.
const MetaFileName = "meta.yaml"

// Meta is the persisted metadata record of a cube. One record lives per
// cube directory under the data directory; the catalog is hydrated by
// scanning for these records at startup.
type Meta struct {
	Name        string     `yaml:"name"`
	Shape       []int      `yaml:"shape"`
	DType       DType      `yaml:"dtype"`
	Sparse      bool       `yaml:"sparse"`
	DimNames    []string   `yaml:"dim_names,omitempty"`
	CoordLabels [][]string `yaml:"coord_labels,omitempty"`
	ChunkShape  []int      `yaml:"chunk_shape,omitempty"`
	FillValue   float64    `yaml:"fill_value"`
}

// NDim returns the number of dimensions.
func (m *Meta) NDim() int { return len(m.Shape) }

// Clone returns a deep copy of the record.
func (m *Meta) Clone() *Meta {
	out := &Meta{
		Name:      m.Name,
		Shape:     CloneInts(m.Shape),
		DType:     m.DType,
		Sparse:    m.Sparse,
		FillValue: m.FillValue,
	}
	if m.DimNames != nil {
		out.DimNames = append([]string(nil), m.DimNames...)
	}
	if m.CoordLabels != nil {
		out.CoordLabels = make([][]string, len(m.CoordLabels))
		for i, labels := range m.CoordLabels {
			if labels != nil {
				out.CoordLabels[i] = append([]string(nil), labels...)
			}
		}
	}
	if m.ChunkShape != nil {
		out.ChunkShape = CloneInts(m.ChunkShape)
	}
	return out
}

// Validate checks the structural invariants of the record.
func (m *Meta) Validate() error {
	v := errors.NewValidationErrors()

	if m.Name == "" {
		v.Add(errors.NewMissingField("name"))
	}
	for i, s := range m.Shape {
		if s < 0 {
			v.AddField("shape", fmt.Sprintf("axis %d has negative extent %d", i, s))
		}
	}
	if m.DimNames != nil && len(m.DimNames) != len(m.Shape) {
		v.AddField("dim_names", fmt.Sprintf("%d names for %d dimensions", len(m.DimNames), len(m.Shape)))
	}
	if m.DimNames != nil {
		seen := make(map[string]bool, len(m.DimNames))
		for _, n := range m.DimNames {
			if n == "" {
				v.AddField("dim_names", "empty dimension name")
				continue
			}
			if seen[n] {
				v.AddField("dim_names", fmt.Sprintf("duplicate dimension name %q", n))
			}
			seen[n] = true
		}
	}
	if m.CoordLabels != nil {
		if len(m.CoordLabels) != len(m.Shape) {
			v.AddField("coord_labels", fmt.Sprintf("%d label sets for %d dimensions", len(m.CoordLabels), len(m.Shape)))
		} else {
			for d, labels := range m.CoordLabels {
				if labels != nil && len(labels) != m.Shape[d] {
					v.AddField("coord_labels",
						fmt.Sprintf("dimension %d has %d labels for extent %d", d, len(labels), m.Shape[d]))
				}
			}
		}
	}
	if !m.Sparse && m.ChunkShape != nil {
		if len(m.ChunkShape) != len(m.Shape) {
			v.AddField("chunk_shape", fmt.Sprintf("%d extents for %d dimensions", len(m.ChunkShape), len(m.Shape)))
		} else {
			for i, c := range m.ChunkShape {
				if c < 1 {
					v.AddField("chunk_shape", fmt.Sprintf("axis %d chunk extent %d < 1", i, c))
				}
			}
		}
	}

	return v.Err()
}

// MetaPath returns the metadata record path inside a cube directory.
func MetaPath(cubeDir string) string {
	return filepath.Join(cubeDir, MetaFileName)
}

// LoadMeta reads and validates a metadata record.
func LoadMeta(cubeDir string) (*Meta, error) {
	data, err := os.ReadFile(MetaPath(cubeDir))
	if err != nil {
		return nil, err
	}
	m := &Meta{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", MetaPath(cubeDir), err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Save writes the metadata record atomically (write temp, rename).
func (m *Meta) Save(cubeDir string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	tmp := MetaPath(cubeDir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, MetaPath(cubeDir))
}
