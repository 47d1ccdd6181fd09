package scraper

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Every numeric-looking field sourced from text flows through Number, so all
// adapters agree on representation: keep digits, dot, and minus; drop
// everything else ("$1,234.50" -> 1234.5). An unparseable source yields nil,
// never zero.

// Number coerces an arbitrary JSON value into a float, or nil when absent or
// unparseable.
func Number(v any) *float64 {
	switch value := v.(type) {
	case nil:
		return nil
	case float64:
		return &value
	case int:
		f := float64(value)
		return &f
	case string:
		stripped := strings.Map(func(r rune) rune {
			if (r >= '0' && r <= '9') || r == '.' || r == '-' {
				return r
			}
			return -1
		}, value)
		if stripped == "" {
			return nil
		}
		f, err := strconv.ParseFloat(stripped, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return &f
	}
	return nil
}

// Int coerces through Number and rounds.
func Int(v any) *int {
	f := Number(v)
	if f == nil {
		return nil
	}
	i := int(math.Round(*f))
	return &i
}

// String returns a pointer to the value when it is a non-empty string.
func String(v any) *string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

// Delinquency formats late-payment counts as "30:x 60:y 90:z", or nil when
// all counts are absent or zero.
func Delinquency(c30, c60, c90 any) *string {
	n30, n60, n90 := Number(c30), Number(c60), Number(c90)
	val := func(n *float64) int {
		if n == nil {
			return 0
		}
		return int(*n)
	}
	if val(n30) == 0 && val(n60) == 0 && val(n90) == 0 {
		return nil
	}
	s := fmt.Sprintf("30:%d 60:%d 90:%d", val(n30), val(n60), val(n90))
	return &s
}

// Dig walks a nested generic JSON object by key path, returning nil when any
// step is missing. A numeric-looking key indexes into a slice.
func Dig(v any, path ...string) any {
	current := v
	for _, key := range path {
		switch node := current.(type) {
		case map[string]any:
			current = node[key]
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil
			}
			current = node[idx]
		default:
			return nil
		}
	}
	return current
}

// Slice returns the value as a generic slice, or nil.
func Slice(v any) []any {
	s, _ := v.([]any)
	return s
}

var (
	whitespacePattern = regexp.MustCompile(`\s+`)
	scorePattern      = regexp.MustCompile(`\b([3-8]\d\d)\b`)
)

// ScoreFromHTML is the DOM fallback for the credit score: locate a 3-digit
// number in the 300-899 band inside a short text node that also mentions
// "score". Used only when no captured network payload yielded the field.
func ScoreFromHTML(html string) *int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var score *int
	doc.Find("*").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if sel.Is("script, style, noscript") {
			return true
		}
		text := strings.TrimSpace(whitespacePattern.ReplaceAllString(sel.Text(), " "))
		// Containers aggregate the whole page text; only short, leaf-like
		// nodes are plausible score widgets.
		if text == "" || len(text) > 120 {
			return true
		}
		if !strings.Contains(strings.ToLower(text), "score") {
			return true
		}
		match := scorePattern.FindStringSubmatch(text)
		if match == nil {
			return true
		}
		if n, err := strconv.Atoi(match[1]); err == nil {
			score = &n
			return false
		}
		return true
	})
	return score
}
