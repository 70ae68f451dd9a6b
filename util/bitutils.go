package util

import (
	"math"
	"strconv"
	"strings"
)

// 日志槽里的原始值统一按64位位模式保存，读写两侧都只做位级重解释，
// 不经过任何数值转换，保证 float/double 的 NaN 位模式也能原样还原。

// BoolToRaw 将bool重解释为64位位模式
func BoolToRaw(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

// RawToBool 将64位位模式重解释为bool
func RawToBool(raw uint64) bool {
	return raw&1 != 0
}

// Int8ToRaw 将有符号8位值重解释为64位位模式
func Int8ToRaw(v int8) uint64 {
	return uint64(uint8(v))
}

// RawToInt8 截断64位位模式为有符号8位值
func RawToInt8(raw uint64) int8 {
	return int8(uint8(raw))
}

// Uint16ToRaw 将无符号16位值（char）重解释为64位位模式
func Uint16ToRaw(v uint16) uint64 {
	return uint64(v)
}

// RawToUint16 截断64位位模式为无符号16位值（char）
func RawToUint16(raw uint64) uint16 {
	return uint16(raw)
}

// Int16ToRaw 将有符号16位值重解释为64位位模式
func Int16ToRaw(v int16) uint64 {
	return uint64(uint16(v))
}

// RawToInt16 截断64位位模式为有符号16位值
func RawToInt16(raw uint64) int16 {
	return int16(uint16(raw))
}

// Uint32ToRaw 将32位值重解释为64位位模式
func Uint32ToRaw(v uint32) uint64 {
	return uint64(v)
}

// RawToUint32 截断64位位模式为32位值
func RawToUint32(raw uint64) uint32 {
	return uint32(raw)
}

// Float32ToRaw 将float32的位模式放入64位
func Float32ToRaw(v float32) uint64 {
	return uint64(math.Float32bits(v))
}

// RawToFloat32 从64位位模式还原float32
func RawToFloat32(raw uint64) float32 {
	return math.Float32frombits(uint32(raw))
}

// Float64ToRaw 将float64的位模式放入64位
func Float64ToRaw(v float64) uint64 {
	return math.Float64bits(v)
}

// RawToFloat64 从64位位模式还原float64
func RawToFloat64(raw uint64) float64 {
	return math.Float64frombits(raw)
}

// ToBinaryString 按位打印一个字节，调试用
func ToBinaryString(data byte) string {
	result := make([]string, 0)
	for i := 0; i < 8; i++ {
		move := uint(7 - i)
		result = append(result, strconv.Itoa(int((data>>move)&1)))
	}
	return strings.Join(result, "")
}
