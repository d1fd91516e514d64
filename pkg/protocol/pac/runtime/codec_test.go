package runtime

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatsRoundTrip(t *testing.T) {
	values := []float32{0, 1, -1, 42.5, 3.4028235e38, -1.0e-38, 0.001, 123456.7}
	decoded := BytesToFloats(FloatsToBytes(values))
	require.Len(t, decoded, len(values))
	for i := range values {
		assert.Equal(t, math.Float32bits(values[i]), math.Float32bits(decoded[i]), "element %d", i)
	}
}

func TestBytesToFloatsLittleEndian(t *testing.T) {
	// 42.5 = 0x422A0000
	assert.Equal(t, []float32{42.5}, BytesToFloats([]byte{0x00, 0x00, 0x2a, 0x42}))
}

func TestBytesToFloatsReplacesNonFinite(t *testing.T) {
	data := FloatsToBytes([]float32{
		float32(math.NaN()),
		float32(math.Inf(1)),
		float32(math.Inf(-1)),
		7,
	})
	assert.Equal(t, []float32{0, 0, 0, 7}, BytesToFloats(data))

	again := BytesToFloats(FloatsToBytes(BytesToFloats(data)))
	assert.Equal(t, []float32{0, 0, 0, 7}, again)
}

func TestBytesToFloatsTruncatesPartialGroup(t *testing.T) {
	for n := 0; n < 14; n++ {
		data := make([]byte, n)
		assert.Len(t, BytesToFloats(data), n/4, "length %d", n)
		assert.Len(t, BytesToInt32s(data), n/4, "length %d", n)
	}
}

func TestInt32sRoundTrip(t *testing.T) {
	values := []int32{0, 1, -1, math.MaxInt32, math.MinInt32, 65535}
	assert.Equal(t, values, BytesToInt32s(Int32sToBytes(values)))
	assert.Equal(t, []int32{-1}, BytesToInt32s([]byte{0xff, 0xff, 0xff, 0xff}))
}

func TestAsciiToNumber(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  -12.5e+3 garbage", "-12.5e+3"},
		{"", "0"},
		{"abc", "0"},
		{"42.5 ", "42.5"},
		{"\r\n17\x00", "17"},
		{"1.2.3", "1.23"},
		{"-", "0"},
		{".", "0"},
		{"e5", "5"},
		{"--3", "-3"},
		{"1E-2", "1E-2"},
		{"12 34", "12"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, AsciiToNumber([]byte(c.in)), "input %q", c.in)
	}
}

func TestParseReplies(t *testing.T) {
	assert.Equal(t, float32(42.5), ParseFloatReply([]byte("42.5")))
	assert.Equal(t, float32(-12500), ParseFloatReply([]byte("-12.5e+3")))
	assert.Equal(t, float32(0), ParseFloatReply([]byte("garbage")))
	assert.Equal(t, float32(12), ParseFloatReply([]byte("12e")))

	assert.Equal(t, int32(17), ParseInt32Reply([]byte("17")))
	assert.Equal(t, int32(-3), ParseInt32Reply([]byte("-3.7")))
	assert.Equal(t, int32(1000), ParseInt32Reply([]byte("1e3")))
	assert.Equal(t, int32(0), ParseInt32Reply([]byte("99999999999")))
	assert.Equal(t, int32(0), ParseInt32Reply(nil))
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "42.5", FormatFloat(42.5))
	assert.Equal(t, "0.1", FormatFloat(0.1))
	assert.Equal(t, "1234568", FormatFloat(1234567.8))
	assert.Equal(t, "-7", FormatFloat(-7))
	assert.Equal(t, "12", FormatInt32(12))
}

func TestAsciiError(t *testing.T) {
	text, ok := AsciiError([]byte("\x00\x00Unknown table\r\n"))
	assert.True(t, ok)
	assert.Equal(t, "Unknown table", text)

	_, ok = AsciiError([]byte("\x00\x00ok\r"))
	assert.False(t, ok, "too few printable characters")

	frame := append([]byte{0, 0}, FloatsToBytes([]float32{1, 2})...)
	_, ok = AsciiError(frame)
	assert.False(t, ok)
}
