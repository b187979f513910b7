package device

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// EncodeValues packs float values into a staging buffer of the given dtype,
// little-endian. FP16 conversion rounds to nearest even.
func EncodeValues(vals []float32, dt DType) ([]byte, error) {
	switch dt {
	case FP16:
		buf := make([]byte, 2*len(vals))
		for i, v := range vals {
			binary.LittleEndian.PutUint16(buf[2*i:], float16.Fromfloat32(v).Bits())
		}
		return buf, nil
	case FP32:
		buf := make([]byte, 4*len(vals))
		for i, v := range vals {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
		}
		return buf, nil
	case INT8:
		buf := make([]byte, len(vals))
		for i, v := range vals {
			buf[i] = byte(int8(clampInt8(v)))
		}
		return buf, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, dt)
}

// DecodeValues unpacks a staging buffer back into float values.
func DecodeValues(buf []byte, dt DType) ([]float32, error) {
	es := dt.ElemSize()
	if es == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, dt)
	}
	if len(buf)%es != 0 {
		return nil, fmt.Errorf("%w: %d bytes not a multiple of %d", ErrBadTensor, len(buf), es)
	}
	n := len(buf) / es
	vals := make([]float32, n)
	switch dt {
	case FP16:
		for i := range vals {
			vals[i] = float16.Frombits(binary.LittleEndian.Uint16(buf[2*i:])).Float32()
		}
	case FP32:
		for i := range vals {
			vals[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
		}
	case INT8:
		for i := range vals {
			vals[i] = float32(int8(buf[i]))
		}
	}
	return vals, nil
}

func clampInt8(v float32) float32 {
	if v > 127 {
		return 127
	}
	if v < -128 {
		return -128
	}
	return v
}
