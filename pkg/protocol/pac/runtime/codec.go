package runtime

import (
	"math"
	"pacbridge/pkg/utils/binutil"
	"strconv"
	"strings"

	"k8s.io/klog/v2"
)

// BytesToFloats decodes little-endian IEEE-754 groups. A trailing partial
// group is dropped and non-finite values decode as 0.
func BytesToFloats(data []byte) []float32 {
	if rest := len(data) % ElementBytes; rest != 0 {
		klog.V(2).InfoS("Payload length is not a multiple of 4, truncating", "length", len(data), "dropped", rest)
	}
	floats := make([]float32, 0, len(data)/ElementBytes)
	for i := 0; i+ElementBytes <= len(data); i += ElementBytes {
		f := binutil.ParseFloat32LittleEndian(data[i:])
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			klog.V(2).InfoS("Replaced non-finite float with 0", "position", i/ElementBytes, "bits", binutil.ParseUint32LittleEndian(data[i:]))
			f = 0
		}
		floats = append(floats, f)
	}
	return floats
}

func BytesToInt32s(data []byte) []int32 {
	if rest := len(data) % ElementBytes; rest != 0 {
		klog.V(2).InfoS("Payload length is not a multiple of 4, truncating", "length", len(data), "dropped", rest)
	}
	ints := make([]int32, 0, len(data)/ElementBytes)
	for i := 0; i+ElementBytes <= len(data); i += ElementBytes {
		ints = append(ints, binutil.ParseInt32LittleEndian(data[i:]))
	}
	return ints
}

func FloatsToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*ElementBytes)
	for i, f := range floats {
		binutil.WriteFloat32LittleEndian(buf[i*ElementBytes:], f)
	}
	return buf
}

func Int32sToBytes(ints []int32) []byte {
	buf := make([]byte, len(ints)*ElementBytes)
	for i, v := range ints {
		binutil.WriteInt32LittleEndian(buf[i*ElementBytes:], v)
	}
	return buf
}

// PrintableText keeps only printable ascii characters.
func PrintableText(data []byte) string {
	var sb strings.Builder
	for _, b := range data {
		if binutil.IsPrintable(b) {
			sb.WriteByte(b)
		}
	}
	return sb.String()
}

// AsciiToNumber extracts a numeral from a free-form controller reply.
// Control characters and unknown characters are skipped, a space ends the
// numeral once it has started. Empty or degenerate results yield "0".
func AsciiToNumber(data []byte) string {
	result := make([]byte, 0, len(data))
	var decimal, negative, exponent, exponentSign bool

	for _, c := range data {
		switch {
		case c == 0 || c == '\r' || c == '\n' || c == '\t':
			continue
		case c >= '0' && c <= '9':
			result = append(result, c)
		case c == '-' && !negative && len(result) == 0:
			result = append(result, c)
			negative = true
		case c == '.' && !decimal && !exponent:
			result = append(result, c)
			decimal = true
		case (c == 'e' || c == 'E') && !exponent && len(result) > 0:
			result = append(result, c)
			exponent = true
		case (c == '+' || c == '-') && exponent && !exponentSign &&
			(result[len(result)-1] == 'e' || result[len(result)-1] == 'E'):
			result = append(result, c)
			exponentSign = true
		case c == ' ' && len(result) > 0:
			return normalizeNumber(string(result))
		}
	}
	return normalizeNumber(string(result))
}

func normalizeNumber(s string) string {
	switch s {
	case "", "-", ".", "e", "E":
		return "0"
	}
	return s
}

// numeral drops a dangling exponent marker such as "12e+".
func numeral(data []byte) string {
	s := strings.TrimRight(AsciiToNumber([]byte(PrintableText(data))), "eE+-")
	if len(s) == 0 {
		return "0"
	}
	return s
}

// ParseFloatReply decodes an ascii single variable reply. Unparsable input
// yields 0.
func ParseFloatReply(data []byte) float32 {
	s := numeral(data)
	f, err := strconv.ParseFloat(s, 32)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		klog.V(2).InfoS("Failed to parse float reply", "reply", PrintableText(data), "numeral", s)
		return 0
	}
	return float32(f)
}

// ParseInt32Reply decodes an ascii single variable reply as int32. The
// numeral is parsed as a double first so "12.0" and "1e3" are accepted;
// values outside the int32 range yield 0.
func ParseInt32Reply(data []byte) int32 {
	s := numeral(data)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		klog.V(2).InfoS("Failed to parse int32 reply", "reply", PrintableText(data), "numeral", s)
		return 0
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		klog.V(2).InfoS("Int32 reply out of range", "reply", PrintableText(data), "value", f)
		return 0
	}
	return int32(f)
}

// FormatFloat renders a value for a write command with 7 significant digits.
func FormatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', 7, 32)
}

func FormatInt32(v int32) string {
	return strconv.FormatInt(int64(v), 10)
}

// AsciiError reports whether a framed reply is an ascii error message. The
// header is skipped and at most AsciiScanLimit bytes are inspected.
func AsciiError(frame []byte) (string, bool) {
	if len(frame) <= HeaderBytes {
		return "", false
	}
	var sb strings.Builder
	for i := HeaderBytes; i < len(frame) && i < AsciiScanLimit; i++ {
		b := frame[i]
		switch {
		case binutil.IsPrintable(b):
			sb.WriteByte(b)
		case b == 0 || b == '\r' || b == '\n':
		default:
			return "", false
		}
	}
	text := sb.String()
	return text, len(text) > AsciiErrorMinChars
}
