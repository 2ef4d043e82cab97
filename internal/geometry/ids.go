package geometry

import (
	"strconv"
	"strings"
)

// CompareIDs orders identifiers in a total order: unsigned decimal strings
// first, numerically ("9" before "10"), then every other identifier
// lexically. Numerically equal strings fall back to lexical order.
func CompareIDs(a, b string) int {
	da, db := isDigits(a), isDigits(b)
	switch {
	case da && !db:
		return -1
	case !da && db:
		return 1
	case da && db:
		ta, tb := strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
		if len(ta) != len(tb) {
			if len(ta) < len(tb) {
				return -1
			}
			return 1
		}
		if c := strings.Compare(ta, tb); c != 0 {
			return c
		}
	}
	return strings.Compare(a, b)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// NormalizeID trims an identifier, drops the fractional part of integral
// decimals ("12.0" -> "12"), keeps only the trailing suffix characters when
// suffix > 0 and left-pads numeric identifiers with zeros to width.
func NormalizeID(raw string, width, suffix int) string {
	id := strings.TrimSpace(raw)
	if strings.Contains(id, ".") {
		if f, err := strconv.ParseFloat(id, 64); err == nil && f >= 0 && f == float64(int64(f)) {
			id = strconv.FormatInt(int64(f), 10)
		}
	}
	if suffix > 0 && len(id) > suffix {
		id = id[len(id)-suffix:]
	}
	if width > 0 && len(id) < width && isDigits(id) {
		id = strings.Repeat("0", width-len(id)) + id
	}
	return id
}
