// Package cube defines the core value types of the engine: numeric dtypes
// with their promotion lattice, typed flat buffers, shape and stride math,
// resolved selections, and the persisted cube metadata record.
package cube

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// DType identifies one of the fixed numeric element types a cube can hold.
type DType uint8

const (
	Bool DType = iota
	Int32
	Int64
	Uint32
	Uint64
	Float32
	Float64
)

// Size returns the element size in bytes.
func (d DType) Size() int {
	switch d {
	case Bool:
		return 1
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

// String returns the canonical dtype name used on the wire and in metadata.
func (d DType) String() string {
	switch d {
	case Bool:
		return "bool"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// ParseDType parses a canonical dtype name.
func ParseDType(s string) (DType, error) {
	switch s {
	case "bool":
		return Bool, nil
	case "int32":
		return Int32, nil
	case "int64", "int":
		return Int64, nil
	case "uint32":
		return Uint32, nil
	case "uint64", "uint":
		return Uint64, nil
	case "float32":
		return Float32, nil
	case "float64", "float":
		return Float64, nil
	default:
		return 0, fmt.Errorf("unknown dtype %q", s)
	}
}

// IsFloat reports whether d is a floating point type.
func (d DType) IsFloat() bool { return d == Float32 || d == Float64 }

// IsInteger reports whether d is a signed or unsigned integer type.
func (d DType) IsInteger() bool {
	return d == Int32 || d == Int64 || d == Uint32 || d == Uint64
}

// IsUnsigned reports whether d is an unsigned integer type.
func (d DType) IsUnsigned() bool { return d == Uint32 || d == Uint64 }

// promotion rank: bool < int < float, narrower < wider.
func (d DType) rank() int {
	switch d {
	case Bool:
		return 0
	case Int32, Uint32:
		return 1
	case Int64, Uint64:
		return 2
	case Float32:
		return 3
	case Float64:
		return 4
	default:
		return 4
	}
}

// Promote returns the result dtype of combining a and b under the fixed
// promotion lattice. Mixing signed and unsigned integers promotes to the
// signed type of the wider width.
func Promote(a, b DType) DType {
	if a == b {
		return a
	}
	hi, lo := a, b
	if b.rank() > a.rank() {
		hi, lo = b, a
	}
	if hi.rank() > lo.rank() {
		// Signed/unsigned mix widens to signed.
		if hi.IsUnsigned() && lo.IsInteger() && !lo.IsUnsigned() {
			return Int64
		}
		return hi
	}
	// Same rank, different type: int32/uint32 -> int64, int64/uint64 -> int64.
	if hi.IsInteger() && lo.IsInteger() {
		return Int64
	}
	return hi
}

// MarshalYAML encodes the dtype as its canonical name.
func (d DType) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML decodes a canonical dtype name.
func (d *DType) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseDType(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
