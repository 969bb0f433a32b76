// Package fmt has formatting helpers shared by G-code and status output.
package fmt

import (
	"strconv"
	"strings"
)

// SprintFloat formats value with at most decimal digits after the point, dropping trailing zeros.
// Values that round to zero never print a sign.
func SprintFloat(value float64, decimal uint) string {
	floatStr := strconv.FormatFloat(value, 'f', int(decimal), 64)
	if decimal > 0 {
		floatStr = strings.TrimRight(strings.TrimRight(floatStr, "0"), ".")
	}
	if floatStr == "-0" {
		return "0"
	}
	return floatStr
}
