package browser

import (
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"

	"github.com/giadungplus/opscore/internal/domain/integration"
)

// CaptureRule says which in-browser requests carry the headers of a session.
// Patterns are tried in order; an earlier pattern wins over a later one.
type CaptureRule struct {
	Kind     integration.SessionKind
	Patterns []string
}

// DefaultCaptureRules match the XHRs the Sapo admin issues right after login
func DefaultCaptureRules() []CaptureRule {
	return []CaptureRule{
		{Kind: integration.SessionCore, Patterns: []string{"delivery_service_providers.json", "/admin/orders.json"}},
		{Kind: integration.SessionMarketplace, Patterns: []string{"/v2/orders", "/api/staffs/"}},
	}
}

// headerCapture collects request headers from DevTools network events.
// Chrome reports a request's headers in two events: the page-visible set in
// requestWillBeSent and the final set (cookies included) in the extra-info
// event. Both are merged per request id.
type headerCapture struct {
	rules []CaptureRule

	mu      sync.Mutex
	urls    map[network.RequestID]string
	headers map[network.RequestID]map[string]string
	matched map[integration.SessionKind]match
}

type match struct {
	id       network.RequestID
	priority int
}

func newHeaderCapture(rules []CaptureRule) *headerCapture {
	return &headerCapture{
		rules:   rules,
		urls:    make(map[network.RequestID]string),
		headers: make(map[network.RequestID]map[string]string),
		matched: make(map[integration.SessionKind]match),
	}
}

func (c *headerCapture) handle(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if e.Request == nil {
			return
		}
		c.onRequest(e.RequestID, e.Request.URL, e.Request.Headers)
	case *network.EventRequestWillBeSentExtraInfo:
		c.onExtraInfo(e.RequestID, e.Headers)
	}
}

func (c *headerCapture) onRequest(id network.RequestID, url string, headers network.Headers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls[id] = url
	c.mergeLocked(id, headers)

	for _, rule := range c.rules {
		for priority, pattern := range rule.Patterns {
			if !strings.Contains(url, pattern) {
				continue
			}
			if prev, ok := c.matched[rule.Kind]; !ok || priority < prev.priority {
				c.matched[rule.Kind] = match{id: id, priority: priority}
			}
			break
		}
	}
}

func (c *headerCapture) onExtraInfo(id network.RequestID, headers network.Headers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mergeLocked(id, headers)
}

func (c *headerCapture) mergeLocked(id network.RequestID, headers network.Headers) {
	dst, ok := c.headers[id]
	if !ok {
		dst = make(map[string]string, len(headers))
		c.headers[id] = dst
	}
	for k, v := range headers {
		dst[strings.ToLower(k)] = fmt.Sprint(v)
	}
}

// has reports whether a request for kind has been seen
func (c *headerCapture) has(kind integration.SessionKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.matched[kind]
	return ok
}

// preferred reports whether kind matched its first pattern
func (c *headerCapture) preferred(kind integration.SessionKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.matched[kind]
	return ok && m.priority == 0
}

// headersFor returns a copy of the captured headers for kind
func (c *headerCapture) headersFor(kind integration.SessionKind) (map[string]string, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.matched[kind]
	if !ok {
		return nil, "", false
	}
	out := make(map[string]string, len(c.headers[m.id]))
	for k, v := range c.headers[m.id] {
		out[k] = v
	}
	return out, c.urls[m.id], true
}
