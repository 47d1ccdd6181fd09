package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credbridge/internal/models"
)

// Selectors carries the ordered candidate selectors for each logical login
// control. Order encodes preference; the first visible candidate wins.
type Selectors struct {
	Username []string
	Password []string
	Submit   []string
	Otp      []string
}

// Profile is the data that distinguishes one provider portal from another:
// where to navigate, what the login form looks like, and how to read the
// captured payloads. The Portal engine supplies everything else, so adding a
// provider is writing a Profile, not a scraper.
type Profile struct {
	Provider  string
	LoginURLs []string

	// ReportURLs are visited after login to trigger the site's own report
	// fetches; navigation failures here are tolerated.
	ReportURLs []string

	Selectors Selectors

	// Extract reads captured payloads into the report. It reports whether it
	// found anything; the engine falls back to the DOM and ultimately fails
	// the run when nothing was extracted at all.
	Extract func(rec *Recorder, report *models.NormalizedReport) bool
}

// Portal drives a provider portal from a Profile. One Portal value is safe
// for concurrent Run calls; each run owns a private browser.
type Portal struct {
	profile Profile
	cfg     BrowserConfig
	logger  arbor.ILogger
}

// NewPortal builds the adapter for a profile.
func NewPortal(profile Profile, cfg BrowserConfig, logger arbor.ILogger) *Portal {
	return &Portal{profile: profile, cfg: cfg, logger: logger}
}

// Provider returns the profile's provider name.
func (p *Portal) Provider() string {
	return p.profile.Provider
}

// Run executes the full scrape lifecycle: navigate to login, fill and submit
// the form, probe for an OTP challenge, trigger the report pages, then
// extract capture-first with a DOM fallback. It returns ErrOtpRequired when
// the site demands a code the credentials did not include.
func (p *Portal) Run(ctx context.Context, creds *models.Credentials) (*models.NormalizedReport, error) {
	log := p.logger

	browserCtx, release, err := AcquireBrowser(ctx, p.cfg, log)
	if err != nil {
		return nil, err
	}
	defer release()

	rec, err := NewRecorder(browserCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to enable network capture: %w", err)
	}

	if err := NavigateFirst(browserCtx, p.profile.LoginURLs, p.cfg.NavigationTimeout); err != nil {
		return nil, fmt.Errorf("failed to reach login page: %w", err)
	}

	if err := p.login(browserCtx, creds, log); err != nil {
		return nil, err
	}

	if err := p.otpGate(browserCtx, creds, log); err != nil {
		return nil, err
	}

	Settle(browserCtx, p.cfg.SettleTime)

	for _, url := range p.profile.ReportURLs {
		NavigateBestEffort(browserCtx, url, p.cfg.NavigationTimeout)
		Settle(browserCtx, p.cfg.SettleTime)
	}

	report := models.NewReport(p.profile.Provider)
	extracted := p.profile.Extract != nil && p.profile.Extract(rec, report)

	html, htmlErr := PageHTML(browserCtx)

	if report.Score == nil && htmlErr == nil {
		if score := ScoreFromHTML(html); score != nil {
			report.Score = score
			extracted = true
			log.Debug().
				Str("provider", p.profile.Provider).
				Int("score", *score).
				Msg("Score recovered from rendered page")
		}
	}

	if !extracted {
		return nil, errors.New("no report data extracted from payloads or page")
	}

	p.snapshot(report, rec, html, htmlErr, log)

	log.Info().
		Str("provider", p.profile.Provider).
		Int("accounts", len(report.Accounts)).
		Int("inquiries", len(report.Inquiries)).
		Bool("score", report.Score != nil).
		Msg("Report extracted")

	return report, nil
}

// login fills and submits the login form. A page with no recognizable login
// form is fatal: the portal changed or the navigation landed elsewhere, and
// pressing on would scrape an unknown page with live credentials.
func (p *Portal) login(ctx context.Context, creds *models.Credentials, log arbor.ILogger) error {
	userSel, ok := FirstVisible(ctx, p.profile.Selectors.Username, p.cfg.ProbeTimeout)
	if !ok {
		return errors.New("login form not found")
	}
	TypeInto(ctx, userSel, creds.Username)

	passSel, ok := FirstVisible(ctx, p.profile.Selectors.Password, p.cfg.ProbeTimeout)
	if !ok {
		return errors.New("password field not found")
	}
	TypeInto(ctx, passSel, creds.Password)

	submitSel, ok := FirstVisible(ctx, p.profile.Selectors.Submit, p.cfg.ProbeTimeout)
	if !ok {
		return errors.New("login submit control not found")
	}
	Click(ctx, submitSel)

	log.Debug().Str("username_sel", userSel).Msg("Login form submitted")
	Settle(ctx, p.cfg.SettleTime)
	return nil
}

// otpGate probes for an interactive-code challenge after login. A visible
// challenge with no code on hand pauses the flow with ErrOtpRequired; with a
// code it is answered inline and the run continues.
func (p *Portal) otpGate(ctx context.Context, creds *models.Credentials, log arbor.ILogger) error {
	if len(p.profile.Selectors.Otp) == 0 {
		return nil
	}

	wait := p.cfg.OtpProbeTimeout
	if wait <= 0 {
		wait = 5 * time.Second
	}
	otpSel, visible := FirstVisible(ctx, p.profile.Selectors.Otp, wait)
	if !visible {
		return nil
	}

	if creds.OTP == "" {
		log.Info().Msg("Interactive code challenge detected, pausing")
		return ErrOtpRequired
	}

	TypeInto(ctx, otpSel, creds.OTP)
	if submitSel, ok := FirstVisible(ctx, p.profile.Selectors.Submit, p.cfg.ProbeTimeout); ok {
		Click(ctx, submitSel)
	}
	log.Debug().Msg("Interactive code answered")
	Settle(ctx, p.cfg.SettleTime)
	return nil
}

// snapshot attaches the debugging record: the rendered page as markdown and
// the URLs of every captured payload. Payload bodies themselves stay out of
// the snapshot; they can carry the subject's full file.
func (p *Portal) snapshot(report *models.NormalizedReport, rec *Recorder, html string, htmlErr error, log arbor.ILogger) {
	report.RawSnapshot["captured_urls"] = rec.URLs()
	if htmlErr != nil {
		log.Warn().Err(htmlErr).Msg("Failed to read rendered page for snapshot")
		return
	}
	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to convert page snapshot to markdown")
		return
	}
	const snapshotLimit = 64 * 1024
	if len(markdown) > snapshotLimit {
		markdown = markdown[:snapshotLimit]
	}
	report.RawSnapshot["page_markdown"] = markdown
}
