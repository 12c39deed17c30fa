package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockResources fails requests whose resource type is in types. The
// returned stop function ends interception.
func blockResources(page *rod.Page, types []string) (stop func() error) {
	block := blockSet(types)

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if block[resourceKey(h.Request.Type())] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()

	return router.Stop
}

func blockSet(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return set
}

// resourceKey maps a CDP resource type to its config name.
func resourceKey(t proto.NetworkResourceType) string {
	switch k := strings.ToLower(string(t)); k {
	case "image":
		return "images"
	case "font":
		return "fonts"
	case "stylesheet":
		return "stylesheets"
	default:
		return k
	}
}
