package overlay

import (
	"strconv"
	"strings"

	"github.com/hazyhaar/snapexport/snapexport/internal/dom"
)

// Predicate decides whether an element may visually interfere with a
// capture. Predicates only see resolved facts, so a tagging-based strategy
// can replace the heuristic one without touching the pipeline.
type Predicate func(p dom.Probe) bool

// Any matches when at least one predicate matches.
func Any(ps ...Predicate) Predicate {
	return func(p dom.Probe) bool {
		for _, fn := range ps {
			if fn != nil && fn(p) {
				return true
			}
		}
		return false
	}
}

// DefaultRoles are ARIA roles carried by transient overlays.
var DefaultRoles = []string{"dialog", "alertdialog", "tooltip", "menu", "listbox"}

// DefaultClassPrefixes are class prefixes of common overlay widgets
// (Material UI backdrops and popovers, toast containers).
var DefaultClassPrefixes = []string{
	"MuiBackdrop-root",
	"MuiPopover-root",
	"MuiModal-root",
	"MuiTooltip-popper",
	"MuiSnackbar-root",
	"Toastify",
}

// Denylist matches elements by role or class prefix.
func Denylist(roles, classPrefixes []string) Predicate {
	roleSet := make(map[string]bool, len(roles))
	for _, r := range roles {
		roleSet[strings.ToLower(r)] = true
	}
	return func(p dom.Probe) bool {
		role := strings.ToLower(p.Role)
		if roleSet[role] {
			return true
		}
		// role=presentation alone is common on layout tables.
		if role == "presentation" && positioned(p.Position) {
			return true
		}
		for _, c := range p.Classes {
			for _, prefix := range classPrefixes {
				if strings.HasPrefix(c, prefix) {
					return true
				}
			}
		}
		return false
	}
}

// DefaultAlphaThreshold is the background alpha above which a translucent
// element counts as an overlay candidate.
const DefaultAlphaThreshold = 0.05

// Heuristic flags positioned elements with an explicit positive stacking
// order, translucent elements, and elements with a translucent background.
func Heuristic(alphaThreshold float64) Predicate {
	return func(p dom.Probe) bool {
		if positioned(p.Position) && positiveZ(p.ZIndex) {
			return true
		}
		if p.Opacity < 1 {
			return true
		}
		a := dom.Alpha(p.Background)
		return a > alphaThreshold && a < 1
	}
}

func positioned(pos string) bool {
	switch pos {
	case "", "static":
		return false
	}
	return true
}

func positiveZ(z string) bool {
	n, err := strconv.Atoi(strings.TrimSpace(z))
	return err == nil && n > 0
}
