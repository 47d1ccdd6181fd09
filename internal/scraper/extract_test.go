package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumberCoercion(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want *float64
	}{
		{"nil", nil, nil},
		{"float", 1234.5, f(1234.5)},
		{"int", 42, f(42)},
		{"currency string", "$1,234.50", f(1234.5)},
		{"plain string", "712", f(712)},
		{"negative", "-$250.00", f(-250)},
		{"percent suffix", "34.7%", f(34.7)},
		{"empty string", "", nil},
		{"no digits", "abc", nil},
		{"stripped to garbage", "..-", nil},
		{"bool", true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Number(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func f(v float64) *float64 { return &v }

func TestIntRounds(t *testing.T) {
	got := Int("711.6")
	require.NotNil(t, got)
	assert.Equal(t, 712, *got)

	assert.Nil(t, Int("n/a"))
}

func TestStringIgnoresEmptyAndNonStrings(t *testing.T) {
	got := String("Chase")
	require.NotNil(t, got)
	assert.Equal(t, "Chase", *got)

	assert.Nil(t, String(""))
	assert.Nil(t, String(712.0))
	assert.Nil(t, String(nil))
}

func TestDelinquencyFormatting(t *testing.T) {
	got := Delinquency(2.0, 0.0, 1.0)
	require.NotNil(t, got)
	assert.Equal(t, "30:2 60:0 90:1", *got)

	assert.Nil(t, Delinquency(0.0, 0.0, 0.0), "clean history reads as absent")
	assert.Nil(t, Delinquency(nil, nil, nil))

	mixed := Delinquency("1", nil, nil)
	require.NotNil(t, mixed)
	assert.Equal(t, "30:1 60:0 90:0", *mixed)
}

func TestDigWalksNestedPayloads(t *testing.T) {
	payload := map[string]any{
		"reportInfo": map[string]any{
			"creditFileInfo": []any{
				map[string]any{"score": 712.0},
			},
		},
	}

	assert.Equal(t, 712.0, Dig(payload, "reportInfo", "creditFileInfo", "0", "score"))
	assert.Nil(t, Dig(payload, "reportInfo", "missing"))
	assert.Nil(t, Dig(payload, "reportInfo", "creditFileInfo", "3", "score"), "index out of range")
	assert.Nil(t, Dig(payload, "reportInfo", "creditFileInfo", "x", "score"), "non-numeric index into slice")
	assert.Nil(t, Dig(nil, "anything"))
	assert.Nil(t, Dig(payload, "reportInfo", "creditFileInfo", "0", "score", "deeper"), "walking past a leaf")
}

func TestSliceCoercion(t *testing.T) {
	assert.Len(t, Slice([]any{1, 2}), 2)
	assert.Nil(t, Slice("not a slice"))
	assert.Nil(t, Slice(nil))
}

func TestScoreFromHTMLFindsShortScoreNode(t *testing.T) {
	html := `<html><body>
		<div class="hero">Welcome back! Your account overview is below with lots of long marketing copy that goes on and on about the benefits of monitoring, alerts, identity protection, and daily refreshes of every number we track for you.</div>
		<div class="widget">Your credit score is <strong>720</strong> today</div>
	</body></html>`

	got := ScoreFromHTML(html)
	require.NotNil(t, got)
	assert.Equal(t, 720, *got)
}

func TestScoreFromHTMLIgnoresScriptsAndOutOfBand(t *testing.T) {
	assert.Nil(t, ScoreFromHTML(`<html><body>
		<script>var score = 720;</script>
		<div>score history</div>
	</body></html>`), "scores inside scripts do not count")

	assert.Nil(t, ScoreFromHTML(`<div>Your score improved by 12 points</div>`), "no 3-digit band match")

	assert.Nil(t, ScoreFromHTML(`<div>score 950</div>`), "outside the 300-899 band")

	assert.Nil(t, ScoreFromHTML(`<div>Order #271 score pending</div>`), "below the band")
}
