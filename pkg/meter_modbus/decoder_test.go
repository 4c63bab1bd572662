package meter_modbus

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFloat32Orders(t *testing.T) {
	cases := []struct {
		name  string
		words []uint16
		bo    ByteOrder
		wo    WordOrder
	}{
		{"big/big", []uint16{0x435C, 0x8000}, ByteOrderBig, WordOrderBig},
		{"abcd", []uint16{0x435C, 0x8000}, ByteOrderLittle, WordOrderABCD},
		{"cdab", []uint16{0x8000, 0x435C}, ByteOrderBig, WordOrderCDAB},
		{"big/little", []uint16{0x8000, 0x435C}, ByteOrderBig, WordOrderLittle},
		{"badc", []uint16{0x5C43, 0x0080}, ByteOrderBig, WordOrderBADC},
		{"little/big", []uint16{0x5C43, 0x0080}, ByteOrderLittle, WordOrderBig},
		{"dcba", []uint16{0x0080, 0x5C43}, ByteOrderBig, WordOrderDCBA},
		{"little/little", []uint16{0x0080, 0x5C43}, ByteOrderLittle, WordOrderLittle},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v, err := Decode(c.words, Layout{Type: TypeFloat32, ByteOrder: c.bo, WordOrder: c.wo})
			require.NoError(t, err)
			f, ok := v.Float()
			assert.True(t, ok)
			assert.Equal(t, 220.5, f)
		})
	}
}

func TestDecodeIntegers(t *testing.T) {
	assert := assert.New(t)

	v, err := Decode([]uint16{2200}, Layout{Type: TypeUint16, Scale: 0.1})
	assert.NoError(err)
	assert.InDelta(220.0, v.Number, 1e-9)

	v, err = Decode([]uint16{0xFFFF}, Layout{Type: TypeInt16})
	assert.NoError(err)
	assert.Equal(-1.0, v.Number)

	v, err = Decode([]uint16{0xFFFF, 0xFFFE}, Layout{Type: TypeInt32})
	assert.NoError(err)
	assert.Equal(-2.0, v.Number)

	v, err = Decode([]uint16{0x0001, 0x0000}, Layout{Type: TypeUint32})
	assert.NoError(err)
	assert.Equal(65536.0, v.Number)

	// extra words past the type width are ignored
	v, err = Decode([]uint16{7, 99}, Layout{Type: TypeUint16})
	assert.NoError(err)
	assert.Equal(7.0, v.Number)
}

func TestDecodeErrors(t *testing.T) {
	assert := assert.New(t)

	_, err := Decode([]uint16{0x435C}, Layout{Type: TypeFloat32})
	assert.ErrorIs(err, ErrDecode)

	_, err = Decode([]uint16{0x7FC0, 0x0000}, Layout{Type: TypeFloat32})
	assert.ErrorIs(err, ErrDecode, "NaN")

	_, err = Decode([]uint16{0x7F80, 0x0000}, Layout{Type: TypeFloat32})
	assert.ErrorIs(err, ErrDecode, "+Inf")

	_, err = Decode(nil, Layout{Type: TypeString})
	assert.ErrorIs(err, ErrDecode)

	_, err = Decode([]uint16{1, 2}, Layout{Type: "float64"})
	assert.ErrorIs(err, ErrDecode)
}

func TestDecodeString(t *testing.T) {
	assert := assert.New(t)

	v, err := Decode([]uint16{0x4348, 0x3330, 0x0000, 0x0000}, Layout{Type: TypeString})
	assert.NoError(err)
	assert.True(v.IsText)
	assert.Equal("CH30", v.Text)

	v, err = Decode([]uint16{0x2043, 0x4830, 0x2000}, Layout{Type: TypeString})
	assert.NoError(err)
	assert.Equal("CH0", v.Text)

	v, err = Decode([]uint16{0x4843, 0x3033}, Layout{Type: TypeString, ByteOrder: ByteOrderLittle})
	assert.NoError(err)
	assert.Equal("CH30", v.Text)

	v, err = Decode([]uint16{0x43E9}, Layout{Type: TypeString})
	assert.NoError(err)
	assert.Equal("Cé", v.Text)

	_, ok := v.Float()
	assert.False(ok)
}

func TestEncodeRoundTrip(t *testing.T) {
	layouts := []Layout{
		{Type: TypeFloat32, ByteOrder: ByteOrderBig, WordOrder: WordOrderBig},
		{Type: TypeFloat32, ByteOrder: ByteOrderBig, WordOrder: WordOrderBADC},
		{Type: TypeFloat32, ByteOrder: ByteOrderBig, WordOrder: WordOrderCDAB},
		{Type: TypeFloat32, ByteOrder: ByteOrderBig, WordOrder: WordOrderDCBA},
		{Type: TypeInt32, ByteOrder: ByteOrderLittle, WordOrder: WordOrderLittle},
		{Type: TypeUint32, ByteOrder: ByteOrderBig, WordOrder: WordOrderLittle},
		{Type: TypeInt16, ByteOrder: ByteOrderLittle, WordOrder: WordOrderBig},
		{Type: TypeUint16, Scale: 0.5},
	}
	for _, l := range layouts {
		words, err := Encode(123.5, l)
		require.NoError(t, err, "%+v", l)
		assert.Len(t, words, int(l.Type.Width()))
		v, err := Decode(words, l)
		require.NoError(t, err)
		switch l.Type {
		case TypeFloat32:
			assert.Equal(t, 123.5, v.Number, "%+v", l)
		case TypeUint16:
			assert.Equal(t, 123.5, v.Number, "%+v", l)
		default:
			assert.Equal(t, 124.0, v.Number, "%+v", l)
		}
	}

	_, err := Encode(-1, Layout{Type: TypeUint16})
	assert.ErrorIs(t, err, ErrDecode)
	_, err = Encode(1, Layout{Type: TypeString})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestEncodeString(t *testing.T) {
	assert := assert.New(t)

	words, err := EncodeString("CH30-X", 4, ByteOrderBig)
	assert.NoError(err)
	assert.Equal([]uint16{0x4348, 0x3330, 0x2D58, 0x0000}, words)

	_, err = EncodeString("too long for two", 2, ByteOrderBig)
	assert.ErrorIs(err, ErrDecode)
}

func TestParseDecodeType(t *testing.T) {
	assert := assert.New(t)

	for alias, want := range map[string]DecodeType{"FLOAT": TypeFloat32, " u16 ": TypeUint16, "i32": TypeInt32} {
		got, err := ParseDecodeType(alias)
		assert.NoError(err)
		assert.Equal(want, got)
	}
	_, err := ParseDecodeType("double")
	assert.ErrorIs(err, ErrConfig)
}

func TestValueJSON(t *testing.T) {
	assert := assert.New(t)

	b, err := json.Marshal(NumberValue(220.5))
	assert.NoError(err)
	assert.Equal("220.5", string(b))

	b, err = json.Marshal(TextValue("CH30"))
	assert.NoError(err)
	assert.Equal(`"CH30"`, string(b))

	assert.Equal("0.1", NumberValue(0.1).String())
}
