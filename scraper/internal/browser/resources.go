package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockResources fails requests whose resource type is listed in types.
// The returned func stops interception.
func blockResources(page *rod.Page, types []string) (stop func()) {
	blockSet := blockList(types)

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if shouldBlock(blockSet, h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()

	return func() { _ = router.Stop() }
}

func blockList(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return set
}

// shouldBlock maps CDP resource types onto the plural config names.
func shouldBlock(set map[string]bool, typ proto.NetworkResourceType) bool {
	lower := strings.ToLower(string(typ))
	switch lower {
	case "image":
		return set["images"] || set["image"]
	case "font":
		return set["fonts"] || set["font"]
	case "media":
		return set["media"]
	case "stylesheet":
		return set["stylesheets"] || set["stylesheet"]
	}
	return set[lower]
}
