package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// BrowserConfig holds the chromedp settings shared by all adapters.
type BrowserConfig struct {
	Headless   bool
	NoSandbox  bool
	DisableGPU bool
	UserAgent  string

	// Timeout is the hard deadline for the whole browser session. Every wait
	// inside the session is additionally bounded, so a stuck page can never
	// pin a worker slot past this.
	Timeout time.Duration

	ProbeTimeout      time.Duration // per candidate selector
	OtpProbeTimeout   time.Duration // for the OTP control after submit
	NavigationTimeout time.Duration // per navigation
	SettleTime        time.Duration // post-action network settle
}

// AcquireBrowser starts a fresh isolated browser process for one job and
// returns its context plus a release function. The release function tears
// down page, browser context, and browser process in order; callers defer it
// immediately so every exit path releases the resources.
func AcquireBrowser(parent context.Context, cfg BrowserConfig, logger arbor.ILogger) (context.Context, context.CancelFunc, error) {
	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.UserAgent != "" {
		allocatorOpts = append(allocatorOpts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.NoSandbox {
		allocatorOpts = append(allocatorOpts, chromedp.NoSandbox)
	}
	if cfg.DisableGPU {
		allocatorOpts = append(allocatorOpts, chromedp.DisableGPU)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 4 * time.Minute
	}
	ctx, timeoutCancel := context.WithTimeout(browserCtx, timeout)

	release := func() {
		timeoutCancel()
		browserCancel()
		allocCancel()
	}

	start := time.Now()
	// An empty Run launches the browser process; failing here (no Chrome
	// binary, sandbox trouble) must not leak the allocator.
	if err := chromedp.Run(ctx); err != nil {
		release()
		return nil, nil, fmt.Errorf("failed to start browser: %w", err)
	}

	logger.Debug().
		Dur("startup", time.Since(start)).
		Bool("headless", cfg.Headless).
		Msg("Browser instance started")

	return ctx, release, nil
}
