package config

import (
	"math"
	"strconv"
	"strings"

	"github.com/hyp3rd/ewrap"
)

var errBadSize = ewrap.New("invalid size")

// parseBytes accepts sizes like "512", "64kb", "1.5m" or "2GB".
func parseBytes(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimSuffix(s, "b")
	if s == "" {
		return 0, errBadSize
	}

	mult := int64(1)
	switch s[len(s)-1] {
	case 'k':
		mult = 1 << 10
	case 'm':
		mult = 1 << 20
	case 'g':
		mult = 1 << 30
	}
	if mult > 1 {
		s = strings.TrimSpace(s[:len(s)-1])
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, ewrap.Wrap(errBadSize, err.Error())
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ewrap.Wrap(errBadSize, "not a finite number")
	}
	if v < 0 {
		return 0, ewrap.Wrap(errBadSize, "negative size")
	}
	n := v * float64(mult)
	if n >= math.MaxInt64 {
		return 0, ewrap.Wrap(errBadSize, "size overflows int64")
	}
	return int64(n), nil
}
