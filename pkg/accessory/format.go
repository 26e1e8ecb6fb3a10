package accessory

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// Format is the wire format of a characteristic value.
type Format uint8

const (
	FormatBool Format = iota
	FormatUInt8
	FormatUInt16
	FormatUInt32
	FormatUInt64
	FormatInt
	FormatFloat
	FormatString
	FormatData
	FormatTLV8

	numFormats
)

const (
	// DefaultMaxLength is the string length limit when Constraints.MaxLength is 0.
	DefaultMaxLength = 64
	// DefaultMaxDataLength is the data length limit when Constraints.MaxDataLength is 0.
	DefaultMaxDataLength = 2097152
)

// codec carries the per-format behavior.
type codec struct {
	name   string
	decode func(c *Characteristic, v any) (any, error)
	encode func(dst []byte, v any) ([]byte, error)
}

var codecs = [numFormats]codec{
	FormatBool:   {"bool", decodeBool, encodeBool},
	FormatUInt8:  {"uint8", decodeUint(math.MaxUint8), encodeUint},
	FormatUInt16: {"uint16", decodeUint(math.MaxUint16), encodeUint},
	FormatUInt32: {"uint32", decodeUint(math.MaxUint32), encodeUint},
	FormatUInt64: {"uint64", decodeUint(math.MaxUint64), encodeUint},
	FormatInt:    {"int", decodeInt, encodeInt},
	FormatFloat:  {"float", decodeFloat, encodeFloat},
	FormatString: {"string", decodeString, encodeString},
	FormatData:   {"data", decodeBytes, encodeBytes},
	FormatTLV8:   {"tlv8", decodeBytes, encodeBytes},
}

// IsValid reports whether f is a known format.
func (f Format) IsValid() bool { return f < numFormats }

// String returns the wire name of the format.
func (f Format) String() string {
	if !f.IsValid() {
		return "unknown"
	}
	return codecs[f].name
}

// IsNumeric reports whether values of this format carry range constraints.
func (f Format) IsNumeric() bool {
	switch f {
	case FormatUInt8, FormatUInt16, FormatUInt32, FormatUInt64, FormatInt, FormatFloat:
		return true
	}
	return false
}

// Decode converts a JSON wire value into the characteristic's native Go
// type and validates it against the characteristic's constraints. It returns
// ErrInvalidData for anything the characteristic cannot accept.
func (c *Characteristic) Decode(raw []byte) (any, error) {
	if !c.Format.IsValid() {
		return nil, ErrInvalidFormat
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return codecs[c.Format].decode(c, v)
}

// Encode appends the JSON wire form of a native value to dst. A nil value
// encodes as null.
func (c *Characteristic) Encode(dst []byte, v any) ([]byte, error) {
	if !c.Format.IsValid() {
		return dst, ErrInvalidFormat
	}
	if v == nil {
		return append(dst, "null"...), nil
	}
	return codecs[c.Format].encode(dst, v)
}

// Check validates a native value returned by a read handler.
func (c *Characteristic) Check(v any) error {
	if !c.Format.IsValid() {
		return ErrInvalidFormat
	}
	ok := false
	switch c.Format {
	case FormatBool:
		_, ok = v.(bool)
	case FormatUInt8:
		var x uint8
		if x, ok = v.(uint8); ok {
			return c.checkUint(uint64(x))
		}
	case FormatUInt16:
		var x uint16
		if x, ok = v.(uint16); ok {
			return c.checkUint(uint64(x))
		}
	case FormatUInt32:
		var x uint32
		if x, ok = v.(uint32); ok {
			return c.checkUint(uint64(x))
		}
	case FormatUInt64:
		var x uint64
		if x, ok = v.(uint64); ok {
			return c.checkUint(x)
		}
	case FormatInt:
		var x int32
		if x, ok = v.(int32); ok {
			return c.checkRange(float64(x), true)
		}
	case FormatFloat:
		var x float32
		if x, ok = v.(float32); ok {
			return c.checkRange(float64(x), false)
		}
	case FormatString:
		var s string
		if s, ok = v.(string); ok {
			return c.checkString(s)
		}
	case FormatData:
		var b []byte
		if b, ok = v.([]byte); ok && len(b) > c.maxDataLength() {
			return ErrInvalidData
		}
	case FormatTLV8:
		_, ok = v.([]byte)
	}
	if !ok {
		return fmt.Errorf("%w: %T is not %s", ErrInvalidData, v, c.Format)
	}
	return nil
}

func decodeBool(_ *Characteristic, v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case json.Number:
		switch x.String() {
		case "0":
			return false, nil
		case "1":
			return true, nil
		}
	}
	return nil, ErrInvalidData
}

func decodeUint(limit uint64) func(c *Characteristic, v any) (any, error) {
	return func(c *Characteristic, v any) (any, error) {
		n, ok := v.(json.Number)
		if !ok {
			return nil, ErrInvalidData
		}
		x, err := strconv.ParseUint(n.String(), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(n.String(), 64)
			if ferr != nil || f < 0 || f != math.Trunc(f) || f > float64(limit) {
				return nil, ErrInvalidData
			}
			x = uint64(f)
		}
		if x > limit {
			return nil, ErrInvalidData
		}
		if err := c.checkUint(x); err != nil {
			return nil, err
		}
		switch c.Format {
		case FormatUInt8:
			return uint8(x), nil
		case FormatUInt16:
			return uint16(x), nil
		case FormatUInt32:
			return uint32(x), nil
		default:
			return x, nil
		}
	}
}

func decodeInt(c *Characteristic, v any) (any, error) {
	n, ok := v.(json.Number)
	if !ok {
		return nil, ErrInvalidData
	}
	x, err := strconv.ParseInt(n.String(), 10, 32)
	if err != nil {
		f, ferr := strconv.ParseFloat(n.String(), 64)
		if ferr != nil || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
			return nil, ErrInvalidData
		}
		x = int64(f)
	}
	if err := c.checkRange(float64(x), true); err != nil {
		return nil, err
	}
	return int32(x), nil
}

func decodeFloat(c *Characteristic, v any) (any, error) {
	n, ok := v.(json.Number)
	if !ok {
		return nil, ErrInvalidData
	}
	f, err := strconv.ParseFloat(n.String(), 32)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, ErrInvalidData
	}
	if err := c.checkRange(f, false); err != nil {
		return nil, err
	}
	return float32(f), nil
}

func decodeString(c *Characteristic, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, ErrInvalidData
	}
	if err := c.checkString(s); err != nil {
		return nil, err
	}
	return s, nil
}

func decodeBytes(c *Characteristic, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, ErrInvalidData
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if c.Format == FormatData && len(b) > c.maxDataLength() {
		return nil, ErrInvalidData
	}
	return b, nil
}

func encodeBool(dst []byte, v any) ([]byte, error) {
	b, ok := v.(bool)
	if !ok {
		return dst, ErrInvalidData
	}
	if b {
		return append(dst, '1'), nil
	}
	return append(dst, '0'), nil
}

func encodeUint(dst []byte, v any) ([]byte, error) {
	switch x := v.(type) {
	case uint8:
		return strconv.AppendUint(dst, uint64(x), 10), nil
	case uint16:
		return strconv.AppendUint(dst, uint64(x), 10), nil
	case uint32:
		return strconv.AppendUint(dst, uint64(x), 10), nil
	case uint64:
		return strconv.AppendUint(dst, x, 10), nil
	}
	return dst, ErrInvalidData
}

func encodeInt(dst []byte, v any) ([]byte, error) {
	x, ok := v.(int32)
	if !ok {
		return dst, ErrInvalidData
	}
	return strconv.AppendInt(dst, int64(x), 10), nil
}

func encodeFloat(dst []byte, v any) ([]byte, error) {
	x, ok := v.(float32)
	if !ok || math.IsInf(float64(x), 0) || math.IsNaN(float64(x)) {
		return dst, ErrInvalidData
	}
	return strconv.AppendFloat(dst, float64(x), 'g', -1, 32), nil
}

func encodeString(dst []byte, v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return dst, ErrInvalidData
	}
	b, err := json.Marshal(s)
	if err != nil {
		return dst, err
	}
	return append(dst, b...), nil
}

func encodeBytes(dst []byte, v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return dst, ErrInvalidData
	}
	dst = append(dst, '"')
	dst = base64.StdEncoding.AppendEncode(dst, b)
	return append(dst, '"'), nil
}

func (c *Characteristic) checkUint(x uint64) error {
	if len(c.Constraints.ValidValues) > 0 && c.Format == FormatUInt8 {
		found := false
		for _, vv := range c.Constraints.ValidValues {
			if uint64(vv) == x {
				found = true
				break
			}
		}
		if !found {
			return ErrInvalidData
		}
	}
	if len(c.Constraints.ValidValuesRanges) > 0 && c.Format == FormatUInt8 {
		found := false
		for _, r := range c.Constraints.ValidValuesRanges {
			if uint64(r.Start) <= x && x <= uint64(r.End) {
				found = true
				break
			}
		}
		if !found {
			return ErrInvalidData
		}
	}
	return c.checkRange(float64(x), true)
}

func (c *Characteristic) checkRange(x float64, integral bool) error {
	r := c.Constraints.Range
	if r == nil {
		return nil
	}
	if x < r.Min || x > r.Max {
		return ErrInvalidData
	}
	if integral && r.Step > 0 {
		steps := (x - r.Min) / r.Step
		if steps != math.Trunc(steps) {
			return ErrInvalidData
		}
	}
	return nil
}

func (c *Characteristic) checkString(s string) error {
	if !utf8.ValidString(s) {
		return ErrInvalidData
	}
	if utf8.RuneCountInString(s) > c.maxLength() {
		return ErrInvalidData
	}
	return nil
}

func (c *Characteristic) maxLength() int {
	if c.Constraints.MaxLength > 0 {
		return c.Constraints.MaxLength
	}
	return DefaultMaxLength
}

func (c *Characteristic) maxDataLength() int {
	if c.Constraints.MaxDataLength > 0 {
		return c.Constraints.MaxDataLength
	}
	return DefaultMaxDataLength
}
