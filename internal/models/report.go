package models

import "time"

// NormalizedReport is the provider-independent report shape every adapter
// produces. Fields sourced from site payloads are pointers and deliberately
// lack omitempty: consumers see a stable shape where an absent value is an
// explicit null, never a zero masquerading as data.
type NormalizedReport struct {
	Provider       string           `json:"provider"`
	ProviderUserID *string          `json:"provider_user_id"`
	PulledAt       time.Time        `json:"pulled_at"`
	Score          *int             `json:"score"`
	ScoreModel     *string          `json:"score_model"`
	Identity       map[string]any   `json:"identity"`
	Accounts       []Account        `json:"accounts"`
	Inquiries      []Inquiry        `json:"inquiries"`
	PublicRecords  []map[string]any `json:"public_records"`

	// RawSnapshot preserves what the scrape actually saw (page markdown,
	// captured payload URLs) for debugging extraction drift. It is part of
	// the stored result, never of the pretty rendering.
	RawSnapshot map[string]any `json:"raw_snapshot"`
}

// Account is one tradeline. Monetary fields are normalized numbers; dates
// stay provider-formatted strings. Delinquency is the "30:x 60:y 90:z"
// late-payment summary, nil when the account was never late.
type Account struct {
	Type            *string  `json:"type"`
	Issuer          *string  `json:"issuer"`
	OpenDate        *string  `json:"open_date"`
	CreditLimit     *float64 `json:"credit_limit"`
	Balance         *float64 `json:"balance"`
	UtilizationPct  *float64 `json:"utilization_pct"`
	Status          *string  `json:"status"`
	LastPaymentDate *string  `json:"last_payment_date"`
	Delinquency     *string  `json:"delinquency"`
}

// Inquiry is one hard pull recorded on the file.
type Inquiry struct {
	Date       *string `json:"date"`
	Subscriber *string `json:"subscriber"`
	Bureau     *string `json:"bureau"`
}

// NewReport returns a report skeleton for a provider with empty (non-nil)
// collections, so the JSON shape is stable even when extraction finds
// nothing to put in them.
func NewReport(provider string) *NormalizedReport {
	return &NormalizedReport{
		Provider:      provider,
		PulledAt:      time.Now().UTC(),
		Identity:      map[string]any{},
		Accounts:      []Account{},
		Inquiries:     []Inquiry{},
		PublicRecords: []map[string]any{},
		RawSnapshot:   map[string]any{},
	}
}
