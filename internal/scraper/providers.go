package scraper

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credbridge/internal/models"
)

// Provider profiles. Selector lists and payload mappings track what the live
// portals serve; when a portal redesign lands, the profile is what changes.

// pick returns the first present, non-nil value among the keys.
func pick(m map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

// amount reads CreditKarma's money nodes, which wrap the value as
// {amount: ...} or {value: ...}.
func amount(v any) *float64 {
	node, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return Number(pick(node, "amount", "value"))
}

// NewExperian builds the Experian consumer portal adapter.
func NewExperian(cfg BrowserConfig, logger arbor.ILogger) *Portal {
	return NewPortal(Profile{
		Provider: "experian",
		LoginURLs: []string{
			"https://www.experian.com/login/",
			"https://usa.experian.com/login/",
			"https://www.experian.com/consumer/login",
		},
		ReportURLs: []string{
			"https://usa.experian.com/",
			"https://usa.experian.com/member/credit-report",
		},
		Selectors: Selectors{
			Username: []string{`input[name="username"]`, `input#username`, `input[type="email"]`, `input[name="email"]`},
			Password: []string{`input[name="password"]`, `input#password`, `input[type="password"]`},
			Submit:   []string{`button[type="submit"]`, `button#signIn`, `button[data-testid="sign-in-button"]`},
			Otp:      []string{`input[name="otp"]`, `input[name="code"]`, `input#otp`, `input[name="oneTimeCode"]`},
		},
		Extract: extractExperian,
	}, cfg, logger)
}

// extractExperian reads the portal's forcereload report payload:
// reportInfo.creditFileInfo[0] carries score, tradelines, inquiries, public
// records, and the subject's names and addresses.
func extractExperian(rec *Recorder, report *models.NormalizedReport) bool {
	found := false
	for _, payload := range rec.JSONObjects("/api/report/forcereload") {
		info, ok := Dig(payload, "reportInfo", "creditFileInfo", "0").(map[string]any)
		if !ok {
			continue
		}
		found = true

		scoreObj, _ := pick(info, "score").(map[string]any)
		if scoreObj == nil {
			scoreObj, _ = Dig(info, "scores", "0").(map[string]any)
		}
		if scoreObj != nil {
			if s := Int(pick(scoreObj, "score", "score_txt")); s != nil && report.Score == nil {
				report.Score = s
			}
		}
		if report.ScoreModel == nil {
			if model := String(Dig(info, "comparisonData", "currentReport", "scoreModel")); model != nil {
				report.ScoreModel = model
			} else if scoreObj != nil {
				report.ScoreModel = String(scoreObj["scoreType"])
			}
		}

		for _, item := range Slice(info["accounts"]) {
			acc, ok := item.(map[string]any)
			if !ok {
				continue
			}
			report.Accounts = append(report.Accounts, models.Account{
				Type:            String(pick(acc, "category", "type")),
				Issuer:          String(acc["accountName"]),
				OpenDate:        String(acc["dateOpened"]),
				CreditLimit:     Number(pick(acc, "limit", "highBalance")),
				Balance:         Number(acc["balance"]),
				Status:          String(pick(acc, "paymentStatus", "openClosed")),
				LastPaymentDate: String(acc["statusDate"]),
				Delinquency: Delinquency(
					acc["delinquent30DaysCount"],
					acc["delinquent60DaysCount"],
					acc["delinquent90DaysCount"],
				),
			})
		}

		for _, item := range Slice(info["inquiries"]) {
			inq, ok := item.(map[string]any)
			if !ok {
				continue
			}
			bureau := "Experian"
			report.Inquiries = append(report.Inquiries, models.Inquiry{
				Date:       String(pick(inq, "date", "inquiryDate")),
				Subscriber: String(pick(inq, "institution", "subscriberName")),
				Bureau:     &bureau,
			})
		}

		for _, item := range Slice(info["publicRecords"]) {
			if record, ok := item.(map[string]any); ok {
				report.PublicRecords = append(report.PublicRecords, record)
			}
		}

		if name := String(Dig(info, "names", "0", "name")); name != nil {
			report.Identity["full_name"] = *name
		}
		if addr := String(Dig(info, "addresses", "0", "streetAddress")); addr != nil {
			report.Identity["address"] = *addr
		}
	}
	return found
}

// tradelineBuckets are the account groupings CreditKarma's report payload
// splits tradelines into.
var tradelineBuckets = []string{
	"creditCards", "autoLoans", "realEstateLoans", "studentLoans",
	"otherLoans", "boostedAccounts", "otherAccounts",
}

// NewCreditKarma builds the Credit Karma adapter.
func NewCreditKarma(cfg BrowserConfig, logger arbor.ILogger) *Portal {
	return NewPortal(Profile{
		Provider: "creditkarma",
		LoginURLs: []string{
			"https://www.creditkarma.com/auth/logon",
			"https://www.creditkarma.com/auth/signon",
			"https://www.creditkarma.com/login",
		},
		ReportURLs: []string{
			"https://www.creditkarma.com/credit-score",
			"https://www.creditkarma.com/dashboard",
		},
		Selectors: Selectors{
			Username: []string{`input[name="username"]`, `input#username`, `input[type="email"]`, `input[name="email"]`},
			Password: []string{`input[name="password"]`, `input#password`, `input[type="password"]`},
			Submit:   []string{`button[type="submit"]`, `button[data-testid="sign-in-button"]`, `button[name="signIn"]`},
			Otp:      []string{`input[name="otp"]`, `input[name="code"]`, `input#otp`, `input[name="oneTimeCode"]`},
		},
		Extract: extractCreditKarma,
	}, cfg, logger)
}

// extractCreditKarma reads the site's GraphQL responses. The primary
// container is data.creditReportsV2.creditReport; older containers
// (getCreditReport, creditReport) still carry score and model on some
// routes, and the dashboard's profileOverview cards are a last-resort score
// source.
func extractCreditKarma(rec *Recorder, report *models.NormalizedReport) bool {
	found := false
	for _, payload := range rec.JSONObjects("/graphql") {
		data, ok := payload["data"].(map[string]any)
		if !ok {
			continue
		}

		if cr, ok := Dig(data, "creditReportsV2", "creditReport").(map[string]any); ok {
			mapKarmaReport(cr, report)
			found = true
			continue
		}

		if cr, ok := pick(data, "getCreditReport", "creditReport").(map[string]any); ok {
			if report.Score == nil {
				report.Score = Int(pick(cr, "score", "currentScore", "scoreValue"))
			}
			if report.ScoreModel == nil {
				report.ScoreModel = String(pick(cr, "scoreModel", "scoreType", "model"))
			}
			found = found || report.Score != nil
			continue
		}

		prof, ok := Dig(data, "profileOverview", "getProfileOverview").(map[string]any)
		if !ok {
			prof, ok = data["getProfileOverview"].(map[string]any)
		}
		if ok && report.Score == nil {
			for _, item := range Slice(prof["cards"]) {
				card, ok := item.(map[string]any)
				if !ok {
					continue
				}
				s := Int(pick(card, "score", "vantageScore", "ficoScore", "value"))
				if s != nil && *s >= 300 && *s <= 900 {
					report.Score = s
					if report.ScoreModel == nil {
						report.ScoreModel = String(pick(card, "scoreModel", "model"))
					}
					found = true
					break
				}
			}
		}
	}
	return found
}

func mapKarmaReport(cr map[string]any, report *models.NormalizedReport) {
	if report.Score == nil {
		report.Score = Int(cr["score"])
	}

	tradelines, _ := cr["tradelines"].(map[string]any)
	for _, bucket := range tradelineBuckets {
		for _, item := range Slice(tradelines[bucket]) {
			t, ok := item.(map[string]any)
			if !ok {
				continue
			}
			account := models.Account{
				Type:            String(bucket),
				Issuer:          String(pick(t, "accountName", "portfolioType")),
				OpenDate:        String(t["dateOpened"]),
				CreditLimit:     amount(t["limit"]),
				Balance:         amount(t["currentBalance"]),
				Status:          String(pick(t, "openClosed", "accountStanding")),
				LastPaymentDate: String(t["dateLastPayment"]),
				Delinquency:     Delinquency(t["late30Count"], t["late60Count"], t["late90Count"]),
			}
			if account.Balance == nil {
				// Closed cards only carry the balance as display text.
				account.Balance = Number(Dig(t,
					"balanceTextSplit", "additionalDetailsFields", "0",
					"fieldValueText", "spans", "0", "text"))
			}
			if util := Number(t["utilizationPercentage"]); util != nil {
				account.UtilizationPct = util
			} else if frac := Number(t["utilization"]); frac != nil {
				pct := *frac * 100
				account.UtilizationPct = &pct
			}
			report.Accounts = append(report.Accounts, account)
		}
	}

	if len(report.Inquiries) == 0 {
		var bureau *string
		if id := String(cr["creditBureauId"]); id != nil && *id == "EQUIFAX" {
			name := "Equifax"
			bureau = &name
		}
		for _, item := range Slice(cr["inquiries"]) {
			inq, ok := item.(map[string]any)
			if !ok {
				continue
			}
			subscriber := String(Dig(inq, "institution", "name"))
			if subscriber == nil {
				subscriber = String(Dig(inq, "institution", "addressText", "spans", "0", "text"))
			}
			report.Inquiries = append(report.Inquiries, models.Inquiry{
				Date:       String(inq["dateInquired"]),
				Subscriber: subscriber,
				Bureau:     bureau,
			})
		}
	}

	if len(report.PublicRecords) == 0 {
		records, _ := cr["publicRecords"].(map[string]any)
		for _, bucket := range []string{"bankruptcies", "legalItems", "taxLiens", "miscPublicRecords"} {
			for _, item := range Slice(records[bucket]) {
				if record, ok := item.(map[string]any); ok {
					report.PublicRecords = append(report.PublicRecords, record)
				}
			}
		}
	}

	if report.ProviderUserID == nil {
		report.ProviderUserID = String(cr["reportId"])
	}
}
