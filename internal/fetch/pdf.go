package fetch

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractPDF returns the plain text of every readable page.
func ExtractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open pdf: %v", ErrParse, err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}

	text := cleanPDFText(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: empty pdf", ErrParse)
	}
	return text, nil
}

func cleanPDFText(raw string) string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		if trimmed := strings.TrimSpace(line); len(trimmed) > 2 {
			lines = append(lines, trimmed)
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// PDFTitle picks the first line that looks like a title.
func PDFTitle(content, sourceURL string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) > 10 && len(trimmed) < 200 && !strings.Contains(trimmed, "http") {
			return trimmed
		}
	}
	return fmt.Sprintf("PDF Document (%s)", sourceURL)
}

// IsPDFURL checks the path extension.
func IsPDFURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.HasSuffix(strings.ToLower(rawURL), ".pdf")
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}
