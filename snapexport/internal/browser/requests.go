// CLAUDE:SUMMARY Request policy for opened tabs: refuse configured resource types through Rod request hijacking.
package browser

import (
	"log/slog"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// RequestPolicy decides which resource types a tab refuses.
type RequestPolicy struct {
	block map[string]bool
}

// NewRequestPolicy builds a policy from config names. The aliases images,
// fonts and stylesheets map to the CDP resource types; other names are
// compared to the CDP type as is.
func NewRequestPolicy(types []string) RequestPolicy {
	p := RequestPolicy{block: make(map[string]bool, len(types))}
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		switch t {
		case "images":
			t = "image"
		case "fonts":
			t = "font"
		case "stylesheets":
			t = "stylesheet"
		}
		if t != "" {
			p.block[t] = true
		}
	}
	return p
}

// Blocks reports whether a request of the given CDP resource type is refused.
func (p RequestPolicy) Blocks(resType proto.NetworkResourceType) bool {
	return p.block[strings.ToLower(string(resType))]
}

// Empty reports whether the policy blocks nothing.
func (p RequestPolicy) Empty() bool { return len(p.block) == 0 }

// applyRequestPolicy hijacks the requests of page. The returned func stops
// the router.
func applyRequestPolicy(page *rod.Page, p RequestPolicy, logger *slog.Logger) func() {
	if p.Empty() {
		return func() {}
	}
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if p.Blocks(h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()

	return func() {
		if err := router.Stop(); err != nil {
			logger.Debug("browser: stop request router", "error", err)
		}
	}
}
