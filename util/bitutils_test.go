package util

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRawRoundTrip(t *testing.T) {
	t.Run("有符号窄类型", func(t *testing.T) {
		for _, v := range []int8{0, 1, -1, math.MinInt8, math.MaxInt8} {
			assert.Equal(t, v, RawToInt8(Int8ToRaw(v)))
		}
		for _, v := range []int16{0, 1, -1, math.MinInt16, math.MaxInt16} {
			assert.Equal(t, v, RawToInt16(Int16ToRaw(v)))
		}
	})

	t.Run("char截断", func(t *testing.T) {
		for _, v := range []uint16{0, 1, 0xFFFF, 0x8000} {
			assert.Equal(t, v, RawToUint16(Uint16ToRaw(v)))
		}
		// 高位脏数据不影响低16位
		assert.Equal(t, uint16(0x1234), RawToUint16(0xDEADBEEF00001234))
	})

	t.Run("浮点位模式", func(t *testing.T) {
		for _, v := range []float64{0, -0.0, 1.5, math.MaxFloat64, math.SmallestNonzeroFloat64, math.Inf(-1)} {
			assert.Equal(t, math.Float64bits(v), math.Float64bits(RawToFloat64(Float64ToRaw(v))))
		}
		nan := math.Float64frombits(0x7FF8000000000001)
		assert.Equal(t, uint64(0x7FF8000000000001), math.Float64bits(RawToFloat64(Float64ToRaw(nan))))

		for _, v := range []float32{0, -0.0, 1.5, math.MaxFloat32} {
			assert.Equal(t, math.Float32bits(v), math.Float32bits(RawToFloat32(Float32ToRaw(v))))
		}
	})

	t.Run("bool", func(t *testing.T) {
		assert.True(t, RawToBool(BoolToRaw(true)))
		assert.False(t, RawToBool(BoolToRaw(false)))
	})
}

func TestToBinaryString(t *testing.T) {
	assert.Equal(t, "10000000", ToBinaryString(0x80))
	assert.Equal(t, "00000001", ToBinaryString(0x01))
}

func TestBufferReadWrite(t *testing.T) {
	buf := make([]byte, 0)
	buf = WriteByte(buf, 0x7F)
	buf = WriteUB2(buf, 0xBEEF)
	buf = WriteUB4(buf, 0xDEADBEEF)
	buf = WriteUB8(buf, 0x0102030405060708)
	buf = WriteStringWithLength(buf, "java/lang/String")

	cursor := 0
	cursor, b := ReadByte(buf, cursor)
	assert.Equal(t, byte(0x7F), b)
	cursor, u2 := ReadUB2(buf, cursor)
	assert.Equal(t, uint16(0xBEEF), u2)
	cursor, u4 := ReadUB4(buf, cursor)
	assert.Equal(t, uint32(0xDEADBEEF), u4)
	cursor, u8 := ReadUB8(buf, cursor)
	assert.Equal(t, uint64(0x0102030405060708), u8)
	cursor, s := ReadStringWithLength(buf, cursor)
	assert.Equal(t, "java/lang/String", s)
	assert.Equal(t, len(buf), cursor)
}
