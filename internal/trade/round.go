package trade

import (
	"math"
	"strconv"
)

// roundSignificant 按有效位数取整，且保证结果不会高于原值。非数值
// 输入原样返回，报价摘要里偶尔会出现 "N/A" 之类的占位。
func roundSignificant(text string, sigDigits int) string {
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return text
	}
	if value == 0 {
		return "0"
	}
	exponent := math.Floor(math.Log10(math.Abs(value)))
	scale := math.Pow(10, float64(sigDigits-1)-exponent)
	rounded := math.Round(value*scale) / scale
	if rounded > value {
		rounded = math.Floor(value*scale) / scale
	}
	return strconv.FormatFloat(rounded, 'f', -1, 64)
}
