package scraper

import (
	"context"
	"errors"
	"time"

	"github.com/chromedp/chromedp"
)

// Selector probing is probabilistic by design: adapters carry an ordered list
// of candidate selectors per logical field and use the first that appears
// within a bounded wait. Absence of every candidate is not an error by
// itself - it only becomes one when a downstream step cannot proceed.

// FirstVisible tries each candidate selector in order, waiting at most wait
// for each, and returns the first that becomes visible.
func FirstVisible(ctx context.Context, selectors []string, wait time.Duration) (string, bool) {
	for _, sel := range selectors {
		probeCtx, cancel := context.WithTimeout(ctx, wait)
		err := chromedp.Run(probeCtx, chromedp.WaitVisible(sel, chromedp.ByQuery))
		cancel()
		if err == nil {
			return sel, true
		}
		if ctx.Err() != nil {
			return "", false
		}
	}
	return "", false
}

// TypeInto fills a field if the selector resolved and a value is present.
func TypeInto(ctx context.Context, selector, value string) bool {
	if selector == "" || value == "" {
		return false
	}
	err := chromedp.Run(ctx,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
	return err == nil
}

// Click clicks a control if the selector resolved.
func Click(ctx context.Context, selector string) bool {
	if selector == "" {
		return false
	}
	return chromedp.Run(ctx, chromedp.Click(selector, chromedp.ByQuery)) == nil
}

// NavigateFirst tries each URL in order and stops at the first that loads
// within the per-navigation timeout.
func NavigateFirst(ctx context.Context, urls []string, timeout time.Duration) error {
	var lastErr error
	for _, url := range urls {
		navCtx, cancel := context.WithTimeout(ctx, timeout)
		err := chromedp.Run(navCtx, chromedp.Navigate(url))
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no candidate URLs")
	}
	return lastErr
}

// NavigateBestEffort loads a URL and ignores failure; dashboards after login
// differ per account state and a missing route is not fatal.
func NavigateBestEffort(ctx context.Context, url string, timeout time.Duration) {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_ = chromedp.Run(navCtx, chromedp.Navigate(url))
}

// Settle waits a fixed period for in-flight requests and rendering to land.
func Settle(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	_ = chromedp.Run(ctx, chromedp.Sleep(d))
}

// PageHTML returns the rendered document markup for DOM-fallback extraction.
func PageHTML(ctx context.Context) (string, error) {
	var html string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}
