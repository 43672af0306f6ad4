// Package relation implements the typed tuple model shared by the decoders,
// the format loaders and the rule engine. A relation is a named, ordered
// collection of rows whose column types come from a schema signature such
// as "s,u" or "<u:address,s:name>".
package relation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMalformedValue reports a token that does not convert to its column type.
	ErrMalformedValue = errors.New("malformed value")
	// ErrSchemaMismatch reports a line whose token count differs from the schema.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrUnknownTag reports a type tag outside s, i, u, f.
	ErrUnknownTag = errors.New("unknown type tag")
)

// Tag is the single-character type code of a column.
type Tag byte

const (
	TagString   Tag = 's'
	TagInt      Tag = 'i'
	TagUnsigned Tag = 'u'
	TagFloat    Tag = 'f'
)

// Valid reports whether t is one of the four known tags.
func (t Tag) Valid() bool {
	switch t {
	case TagString, TagInt, TagUnsigned, TagFloat:
		return true
	}
	return false
}

func (t Tag) String() string { return string(rune(t)) }

// Cell is one typed value. The set of implementations is closed.
type Cell interface {
	Tag() Tag
	String() string
	cell()
}

// String is a text cell.
type String string

// Int is a signed 64-bit cell.
type Int int64

// Unsigned is an unsigned 64-bit cell, rendered in hexadecimal.
type Unsigned uint64

// Float is a float64 cell.
type Float float64

func (String) Tag() Tag   { return TagString }
func (Int) Tag() Tag      { return TagInt }
func (Unsigned) Tag() Tag { return TagUnsigned }
func (Float) Tag() Tag    { return TagFloat }

func (s String) String() string   { return string(s) }
func (i Int) String() string      { return strconv.FormatInt(int64(i), 10) }
func (u Unsigned) String() string { return "0x" + strconv.FormatUint(uint64(u), 16) }
func (f Float) String() string    { return strconv.FormatFloat(float64(f), 'g', -1, 64) }

func (String) cell()   {}
func (Int) cell()      {}
func (Unsigned) cell() {}
func (Float) cell()    {}

// ParseCell converts text into a cell of the given tag. Unsigned text is
// hexadecimal with an optional 0x prefix, so rendered cells parse back to
// the same value.
func ParseCell(tag Tag, text string) (Cell, error) {
	switch tag {
	case TagString:
		return String(text), nil
	case TagInt:
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a signed integer", ErrMalformedValue, text)
		}
		return Int(v), nil
	case TagUnsigned:
		digits := strings.TrimPrefix(strings.TrimPrefix(text, "0x"), "0X")
		v, err := strconv.ParseUint(digits, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an unsigned integer", ErrMalformedValue, text)
		}
		return Unsigned(v), nil
	case TagFloat:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a float", ErrMalformedValue, text)
		}
		return Float(v), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
}

// CellOf converts a Go scalar into a cell. Strings map to String, signed
// integers to Int, unsigned integers to Unsigned, floats to Float and
// booleans to Unsigned 0 or 1.
func CellOf(v any) (Cell, error) {
	switch x := v.(type) {
	case Cell:
		return x, nil
	case string:
		return String(x), nil
	case int:
		return Int(x), nil
	case int8:
		return Int(x), nil
	case int16:
		return Int(x), nil
	case int32:
		return Int(x), nil
	case int64:
		return Int(x), nil
	case uint:
		return Unsigned(x), nil
	case uint8:
		return Unsigned(x), nil
	case uint16:
		return Unsigned(x), nil
	case uint32:
		return Unsigned(x), nil
	case uint64:
		return Unsigned(x), nil
	case float32:
		return Float(x), nil
	case float64:
		return Float(x), nil
	case bool:
		if x {
			return Unsigned(1), nil
		}
		return Unsigned(0), nil
	}
	return nil, fmt.Errorf("%w: unsupported Go type %T", ErrMalformedValue, v)
}

// None stands in for an absent string value.
const None = "NONE"

// Token makes s a single non-empty whitespace-free String, so the row
// survives the whitespace-delimited text form. Empty text becomes None.
func Token(s string) String {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return None
	}
	return String(strings.Join(fields, "_"))
}

// Coerce converts a Go scalar into a cell of the given tag. Integers move
// between signed and unsigned when the value fits, numbers widen to float,
// text is parsed as the target type and anything becomes a String token.
func Coerce(tag Tag, v any) (Cell, error) {
	c, err := CellOf(v)
	if err != nil {
		return nil, err
	}
	if c.Tag() == tag {
		if s, ok := c.(String); ok {
			return Token(string(s)), nil
		}
		return c, nil
	}
	switch tag {
	case TagString:
		return Token(c.String()), nil
	case TagUnsigned:
		switch x := c.(type) {
		case Int:
			if x >= 0 {
				return Unsigned(x), nil
			}
		case String:
			return ParseCell(tag, string(x))
		}
	case TagInt:
		switch x := c.(type) {
		case Unsigned:
			if x <= 1<<63-1 {
				return Int(x), nil
			}
		case String:
			return ParseCell(tag, string(x))
		}
	case TagFloat:
		switch x := c.(type) {
		case Int:
			return Float(x), nil
		case Unsigned:
			return Float(x), nil
		case String:
			return ParseCell(tag, string(x))
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	return nil, fmt.Errorf("%w: %v does not fit column type %s", ErrMalformedValue, v, tag)
}
