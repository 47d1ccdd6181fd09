package scraper

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Payload is one captured JSON response body.
type Payload struct {
	URL  string
	Body []byte
}

// Recorder intercepts the site's own network responses so adapters can read
// structured payloads instead of scraping markup. Structured payloads are far
// more stable than rendered DOM, so capture is always the first extraction
// source and the DOM only a fallback.
type Recorder struct {
	mu       sync.Mutex
	pending  map[network.RequestID]string // requestID -> URL of JSON responses
	payloads []Payload
}

// NewRecorder enables network tracking on the browser context and starts
// collecting JSON response bodies. Bodies are fetched once loading finishes;
// fetch failures (evicted bodies, redirects) are silently skipped - capture
// is opportunistic.
func NewRecorder(ctx context.Context) (*Recorder, error) {
	if err := chromedp.Run(ctx, network.Enable()); err != nil {
		return nil, err
	}

	r := &Recorder{pending: make(map[network.RequestID]string)}

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if !strings.Contains(strings.ToLower(e.Response.MimeType), "json") {
				return
			}
			r.mu.Lock()
			r.pending[e.RequestID] = e.Response.URL
			r.mu.Unlock()

		case *network.EventLoadingFinished:
			r.mu.Lock()
			url, ok := r.pending[e.RequestID]
			delete(r.pending, e.RequestID)
			r.mu.Unlock()
			if !ok {
				return
			}
			requestID := e.RequestID
			go func() {
				c := chromedp.FromContext(ctx)
				body, err := network.GetResponseBody(requestID).Do(cdp.WithExecutor(ctx, c.Target))
				if err != nil {
					return
				}
				r.add(url, body)
			}()
		}
	})

	return r, nil
}

func (r *Recorder) add(url string, body []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, Payload{URL: url, Body: body})
}

// Payloads returns a snapshot of everything captured so far.
func (r *Recorder) Payloads() []Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Payload, len(r.payloads))
	copy(out, r.payloads)
	return out
}

// Empty reports whether nothing was captured.
func (r *Recorder) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads) == 0
}

// URLs returns the captured request URLs, for the raw snapshot.
func (r *Recorder) URLs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	urls := make([]string, 0, len(r.payloads))
	for _, p := range r.payloads {
		urls = append(urls, p.URL)
	}
	return urls
}

// JSONObjects decodes every captured payload whose URL contains substr into a
// generic object. Arrays (batched GraphQL responses) are flattened one level.
func (r *Recorder) JSONObjects(substr string) []map[string]any {
	var objects []map[string]any
	for _, p := range r.Payloads() {
		if substr != "" && !strings.Contains(p.URL, substr) {
			continue
		}
		var decoded any
		if err := json.Unmarshal(p.Body, &decoded); err != nil {
			continue
		}
		switch v := decoded.(type) {
		case map[string]any:
			objects = append(objects, v)
		case []any:
			for _, item := range v {
				if obj, ok := item.(map[string]any); ok {
					objects = append(objects, obj)
				}
			}
		}
	}
	return objects
}
