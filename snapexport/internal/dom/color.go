package dom

import (
	"strconv"
	"strings"
)

// Alpha extracts the alpha channel from a computed CSS color. Browsers
// resolve colors to rgb()/rgba() (or the keyword "transparent"); anything
// else is treated as opaque.
func Alpha(color string) float64 {
	c := strings.TrimSpace(strings.ToLower(color))
	switch {
	case c == "" || c == "transparent":
		return 0
	case strings.HasPrefix(c, "rgba(") || strings.HasPrefix(c, "rgb("):
		open := strings.IndexByte(c, '(')
		body := strings.TrimSuffix(c[open+1:], ")")
		// Modern syntax: rgb(0 0 0 / 0.5).
		if i := strings.IndexByte(body, '/'); i >= 0 {
			return parseAlpha(body[i+1:])
		}
		parts := strings.Split(body, ",")
		if len(parts) == 4 {
			return parseAlpha(parts[3])
		}
		return 1
	default:
		return 1
	}
}

func parseAlpha(s string) float64 {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "%") {
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return 1
		}
		return v / 100
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 1
	}
	return v
}
