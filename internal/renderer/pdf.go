package renderer

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/ternarybob/credbridge/internal/models"
)

// ToPDF renders the snapshot as a single-page PDF. The layout mirrors the
// markdown summary line for line; markdown markers are stripped rather than
// typeset, which keeps the export dependency-light and deterministic.
func ToPDF(report *models.NormalizedReport) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 10)
	pdf.AddPage()

	for _, line := range strings.Split(Summary(report), "\n") {
		switch {
		case strings.HasPrefix(line, "# "):
			pdf.SetFont("Arial", "B", 16)
			pdf.MultiCell(0, 8, cleanLine(strings.TrimPrefix(line, "# ")), "", "L", false)
			pdf.Ln(2)
		case strings.HasPrefix(line, "### "):
			pdf.SetFont("Arial", "B", 12)
			pdf.MultiCell(0, 7, cleanLine(strings.TrimPrefix(line, "### ")), "", "L", false)
			pdf.Ln(1)
		case strings.HasPrefix(line, "- "):
			pdf.SetFont("Arial", "", 9)
			pdf.MultiCell(0, 5, "  - "+cleanLine(strings.TrimPrefix(line, "- ")), "", "L", false)
		case strings.TrimSpace(line) == "":
			pdf.Ln(2)
		default:
			pdf.SetFont("Arial", "", 10)
			pdf.MultiCell(0, 5, cleanLine(line), "", "L", false)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF output: %w", err)
	}
	return buf.Bytes(), nil
}

// cleanLine strips markdown emphasis markers and maps the bullet separator
// glyph to the core font's character set.
func cleanLine(line string) string {
	line = strings.ReplaceAll(line, "**", "")
	line = strings.ReplaceAll(line, "•", "-")
	return line
}
