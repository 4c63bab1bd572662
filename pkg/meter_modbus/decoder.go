package meter_modbus

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/encoding/charmap"
)

type DecodeType string

const (
	TypeFloat32 DecodeType = "float32"
	TypeInt32   DecodeType = "int32"
	TypeUint32  DecodeType = "uint32"
	TypeInt16   DecodeType = "int16"
	TypeUint16  DecodeType = "uint16"
	TypeString  DecodeType = "string"
)

var decodeTypeAliases = map[string]DecodeType{
	"float":   TypeFloat32,
	"float32": TypeFloat32,
	"int32":   TypeInt32,
	"i32":     TypeInt32,
	"uint32":  TypeUint32,
	"u32":     TypeUint32,
	"int16":   TypeInt16,
	"i16":     TypeInt16,
	"uint16":  TypeUint16,
	"u16":     TypeUint16,
	"string":  TypeString,
}

func ParseDecodeType(s string) (DecodeType, error) {
	if t, ok := decodeTypeAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown decode type %q", ErrConfig, s)
}

// Width is the fixed register count of the type, 0 for strings.
func (t DecodeType) Width() uint16 {
	switch t {
	case TypeFloat32, TypeInt32, TypeUint32:
		return 2
	case TypeInt16, TypeUint16:
		return 1
	}
	return 0
}

func (t DecodeType) Valid() bool {
	return t.Width() > 0 || t == TypeString
}

type ByteOrder string

const (
	ByteOrderBig    ByteOrder = "big"
	ByteOrderLittle ByteOrder = "little"
)

func (o ByteOrder) Valid() bool {
	return o == ByteOrderBig || o == ByteOrderLittle
}

// WordOrder is either a plain word order or one of the mixed layouts
// named after the wire position of the ABCD bytes of a 32 bit value.
// A mixed layout also fixes the byte order.
type WordOrder string

const (
	WordOrderBig    WordOrder = "big"
	WordOrderLittle WordOrder = "little"
	WordOrderABCD   WordOrder = "abcd"
	WordOrderBADC   WordOrder = "badc"
	WordOrderCDAB   WordOrder = "cdab"
	WordOrderDCBA   WordOrder = "dcba"
)

func (o WordOrder) Valid() bool {
	switch o {
	case WordOrderBig, WordOrderLittle, WordOrderABCD, WordOrderBADC, WordOrderCDAB, WordOrderDCBA:
		return true
	}
	return false
}

// Layout describes how a run of registers maps to a value.
// Zero Scale means 1 and empty orders mean big endian.
type Layout struct {
	Type      DecodeType
	Scale     float64
	ByteOrder ByteOrder
	WordOrder WordOrder
}

func (l Layout) scale() float64 {
	if l.Scale == 0 {
		return 1
	}
	return l.Scale
}

func (l Layout) swaps() (swapBytes bool, swapWords bool) {
	switch l.WordOrder {
	case WordOrderABCD:
		return false, false
	case WordOrderBADC:
		return true, false
	case WordOrderCDAB:
		return false, true
	case WordOrderDCBA:
		return true, true
	}
	return l.ByteOrder == ByteOrderLittle, l.WordOrder == WordOrderLittle
}

// Value is a decoded register payload: a scaled number or a text.
type Value struct {
	Number float64
	Text   string
	IsText bool
}

func NumberValue(n float64) Value {
	return Value{Number: n}
}

func TextValue(s string) Value {
	return Value{Text: s, IsText: true}
}

func (v Value) Float() (float64, bool) {
	return v.Number, !v.IsText
}

func (v Value) String() string {
	if v.IsText {
		return v.Text
	}
	return strconv.FormatFloat(v.Number, 'f', -1, 64)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsText {
		return json.Marshal(v.Text)
	}
	return json.Marshal(v.Number)
}

// Decode turns raw register words into a value under the given layout.
// Numeric types use exactly Width() words from the start of the slice.
func Decode(words []uint16, l Layout) (Value, error) {
	swapBytes, swapWords := l.swaps()

	if l.Type == TypeString {
		if len(words) == 0 {
			return Value{}, fmt.Errorf("%w: empty string payload", ErrDecode)
		}
		s, err := decodeString(words, swapBytes)
		if err != nil {
			return Value{}, err
		}
		return TextValue(s), nil
	}

	width := int(l.Type.Width())
	if width == 0 {
		return Value{}, fmt.Errorf("%w: unsupported type %q", ErrDecode, l.Type)
	}
	if len(words) < width {
		return Value{}, fmt.Errorf("%w: %s needs %d registers, got %d", ErrDecode, l.Type, width, len(words))
	}

	buf := wordsToBytes(words[:width], swapBytes, swapWords)
	var raw float64
	switch l.Type {
	case TypeFloat32:
		raw = float64(math.Float32frombits(binary.BigEndian.Uint32(buf)))
		if math.IsNaN(raw) || math.IsInf(raw, 0) {
			return Value{}, fmt.Errorf("%w: non finite float32 %v", ErrDecode, raw)
		}
	case TypeInt32:
		raw = float64(int32(binary.BigEndian.Uint32(buf)))
	case TypeUint32:
		raw = float64(binary.BigEndian.Uint32(buf))
	case TypeInt16:
		raw = float64(int16(binary.BigEndian.Uint16(buf)))
	case TypeUint16:
		raw = float64(binary.BigEndian.Uint16(buf))
	}
	return NumberValue(raw * l.scale()), nil
}

// Encode is the inverse of Decode for numeric layouts.
func Encode(value float64, l Layout) ([]uint16, error) {
	swapBytes, swapWords := l.swaps()
	raw := value / l.scale()

	var buf []byte
	switch l.Type {
	case TypeFloat32:
		buf = binary.BigEndian.AppendUint32(nil, math.Float32bits(float32(raw)))
	case TypeInt32:
		r := math.Round(raw)
		if r < math.MinInt32 || r > math.MaxInt32 {
			return nil, outOfRange(value, l.Type)
		}
		buf = binary.BigEndian.AppendUint32(nil, uint32(int32(r)))
	case TypeUint32:
		r := math.Round(raw)
		if r < 0 || r > math.MaxUint32 {
			return nil, outOfRange(value, l.Type)
		}
		buf = binary.BigEndian.AppendUint32(nil, uint32(r))
	case TypeInt16:
		r := math.Round(raw)
		if r < math.MinInt16 || r > math.MaxInt16 {
			return nil, outOfRange(value, l.Type)
		}
		buf = binary.BigEndian.AppendUint16(nil, uint16(int16(r)))
	case TypeUint16:
		r := math.Round(raw)
		if r < 0 || r > math.MaxUint16 {
			return nil, outOfRange(value, l.Type)
		}
		buf = binary.BigEndian.AppendUint16(nil, uint16(r))
	default:
		return nil, fmt.Errorf("%w: cannot encode %q as a number", ErrDecode, l.Type)
	}
	return bytesToWords(buf, swapBytes, swapWords), nil
}

// EncodeString packs s into count registers, NUL padded.
func EncodeString(s string, count uint16, byteOrder ByteOrder) ([]uint16, error) {
	enc, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	buf := make([]byte, 2*int(count))
	if len(enc) > len(buf) {
		return nil, fmt.Errorf("%w: %q does not fit in %d registers", ErrDecode, s, count)
	}
	copy(buf, enc)
	return bytesToWords(buf, byteOrder == ByteOrderLittle, false), nil
}

func decodeString(words []uint16, swapBytes bool) (string, error) {
	raw, err := charmap.ISO8859_1.NewDecoder().Bytes(wordsToBytes(words, swapBytes, false))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return strings.TrimFunc(string(raw), func(r rune) bool {
		return r == 0 || unicode.IsSpace(r)
	}), nil
}

// wordsToBytes lays registers out as a big endian byte stream.
func wordsToBytes(words []uint16, swapBytes, swapWords bool) []byte {
	n := len(words)
	buf := make([]byte, 2*n)
	for i, w := range words {
		j := i
		if swapWords {
			j = n - 1 - i
		}
		if swapBytes {
			binary.LittleEndian.PutUint16(buf[2*j:], w)
		} else {
			binary.BigEndian.PutUint16(buf[2*j:], w)
		}
	}
	return buf
}

func bytesToWords(buf []byte, swapBytes, swapWords bool) []uint16 {
	n := len(buf) / 2
	words := make([]uint16, n)
	for i := range words {
		j := i
		if swapWords {
			j = n - 1 - i
		}
		if swapBytes {
			words[i] = binary.LittleEndian.Uint16(buf[2*j:])
		} else {
			words[i] = binary.BigEndian.Uint16(buf[2*j:])
		}
	}
	return words
}

func outOfRange(value float64, t DecodeType) error {
	return fmt.Errorf("%w: %v out of range for %s", ErrDecode, value, t)
}
