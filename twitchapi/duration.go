package twitchapi

import (
	"strconv"
	"strings"
)

// ParseDuration converts Helix duration strings like "1h2m3s" to seconds.
// Unknown or malformed input yields 0.
func ParseDuration(s string) int {
	total := 0
	num := strings.Builder{}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num.WriteRune(r)
		case r == 'h' || r == 'm' || r == 's':
			n, err := strconv.Atoi(num.String())
			num.Reset()
			if err != nil {
				return 0
			}
			switch r {
			case 'h':
				total += n * 3600
			case 'm':
				total += n * 60
			case 's':
				total += n
			}
		default:
			return 0
		}
	}
	return total
}
