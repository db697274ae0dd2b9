package httphandler

import (
	"bytes"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// descriptionRenderer turns platform descriptions from the configuration file
// into sanitized HTML. Raw HTML in a description is dropped, and links get
// rel="nofollow" and open in a new tab. Descriptions are static, so each
// distinct source is rendered once.
type descriptionRenderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy

	mu    sync.RWMutex
	cache map[string]string
}

func newDescriptionRenderer() *descriptionRenderer {
	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	policy.AddTargetBlankToFullyQualifiedLinks(true)

	return &descriptionRenderer{
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy: policy,
		cache:  make(map[string]string),
	}
}

// Render returns the HTML for a platform description, or "" for none.
func (r *descriptionRenderer) Render(description string) string {
	if description == "" {
		return ""
	}

	r.mu.RLock()
	html, ok := r.cache[description]
	r.mu.RUnlock()
	if ok {
		return html
	}

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(description), &buf); err != nil {
		html = r.policy.Sanitize(description)
	} else {
		html = r.policy.Sanitize(buf.String())
	}

	r.mu.Lock()
	r.cache[description] = html
	r.mu.Unlock()
	return html
}
