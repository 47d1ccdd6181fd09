// Package renderer turns a normalized report into the human-facing views:
// a markdown snapshot, its HTML rendering, and a PDF export.
package renderer

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/ternarybob/credbridge/internal/models"
)

// Utilization computes portfolio utilization as a percentage with one
// decimal place: total balances over total limits. Returns nil when the
// report carries no limits, since the ratio is undefined.
func Utilization(report *models.NormalizedReport) *float64 {
	var balances, limits float64
	for _, account := range report.Accounts {
		if account.Balance != nil {
			balances += *account.Balance
		}
		if account.CreditLimit != nil {
			limits += *account.CreditLimit
		}
	}
	if limits <= 0 {
		return nil
	}
	pct := math.Round(balances/limits*1000) / 10
	return &pct
}

// Summary renders the markdown credit snapshot: score, account totals,
// utilization, the five largest balances, and the most recent inquiries.
func Summary(report *models.NormalizedReport) string {
	var balances, limits float64
	openCount := 0
	for _, account := range report.Accounts {
		if account.Balance != nil {
			balances += *account.Balance
		}
		if account.CreditLimit != nil {
			limits += *account.CreditLimit
		}
		if account.Status != nil && strings.EqualFold(*account.Status, "open") {
			openCount++
		}
	}
	if openCount == 0 {
		openCount = len(report.Accounts)
	}

	util := "n/a"
	if pct := Utilization(report); pct != nil {
		util = fmt.Sprintf("%.1f%%", *pct)
	}

	score := "n/a"
	if report.Score != nil {
		score = fmt.Sprintf("%d", *report.Score)
		if report.ScoreModel != nil {
			score += fmt.Sprintf(" (%s)", *report.ScoreModel)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Credit Snapshot (%s)\n\n", report.Provider)
	fmt.Fprintf(&b, "**Pulled:** %s\n", report.PulledAt.Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "**Score:** %s\n\n", score)
	fmt.Fprintf(&b, "**Accounts:** %d total • Open ~ %d\n", len(report.Accounts), openCount)
	fmt.Fprintf(&b, "**Total Limits:** $%s • **Total Balances:** $%s • **Utilization:** %s\n\n",
		money(limits), money(balances), util)

	b.WriteString("### Top 5 accounts by balance\n")
	for _, account := range topByBalance(report.Accounts, 5) {
		fmt.Fprintf(&b, "- %s • %s • bal $%s • limit $%s • status %s\n",
			orDefault(account.Type, "account"),
			orDefault(account.Issuer, "issuer"),
			money(deref(account.Balance)),
			money(deref(account.CreditLimit)),
			orDefault(account.Status, "n/a"))
	}
	if len(report.Accounts) == 0 {
		b.WriteString("- None\n")
	}

	b.WriteString("\n### Recent inquiries\n")
	inquiries := report.Inquiries
	if len(inquiries) > 5 {
		inquiries = inquiries[len(inquiries)-5:]
	}
	if len(inquiries) == 0 {
		b.WriteString("- None\n")
	}
	for _, inquiry := range inquiries {
		who := orDefault(inquiry.Subscriber, orDefault(inquiry.Bureau, "subscriber"))
		fmt.Fprintf(&b, "- %s • %s\n", orDefault(inquiry.Date, "date"), who)
	}

	return b.String()
}

// ToHTML renders markdown into a standalone HTML page. A conversion failure
// degrades to the raw markdown in a pre block rather than an error page.
func ToHTML(markdown string) string {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	var buf bytes.Buffer
	body := ""
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		body = "<pre>" + escapeHTML(markdown) + "</pre>"
	} else {
		body = buf.String()
	}

	return `<!DOCTYPE html><html><head><meta charset="utf-8"><title>Credit Snapshot</title>
<style>body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Arial;margin:24px;max-width:800px}pre{white-space:pre-wrap}</style>
</head><body>
` + body + `
</body></html>`
}

func escapeHTML(s string) string {
	replacer := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return replacer.Replace(s)
}

func topByBalance(accounts []models.Account, n int) []models.Account {
	sorted := make([]models.Account, len(accounts))
	copy(sorted, accounts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return deref(sorted[i].Balance) > deref(sorted[j].Balance)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func orDefault(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}

// money formats a rounded dollar amount with thousands separators.
func money(amount float64) string {
	n := int64(math.Round(amount))
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	digits := fmt.Sprintf("%d", n)
	var parts []string
	for len(digits) > 3 {
		parts = append([]string{digits[len(digits)-3:]}, parts...)
		digits = digits[:len(digits)-3]
	}
	parts = append([]string{digits}, parts...)
	return sign + strings.Join(parts, ",")
}
