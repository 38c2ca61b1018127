package ocr

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	reCRLF        = regexp.MustCompile(`\r\n?`)
	reTabs        = regexp.MustCompile(`\t+`)
	reMultiSpace  = regexp.MustCompile(` {2,}`)
	reMultiBlank  = regexp.MustCompile(`\n{3,}`)
	reBoxNoise    = regexp.MustCompile(`(?m)^\s*[_\-=|]{3,}\s*$`)
	reO0Artifacts = regexp.MustCompile(`\bO(\d+)\s?(mg|ml)\b`) // "O5mg" read for "05mg"
	reDigitL      = regexp.MustCompile(`\b(\d+)l(mg|ml)\b`)    // "1lmg" read for "11mg"
)

// Normalize folds the text to NFKC, collapses noisy whitespace and fixes a few
// common OCR artifacts. Line breaks are kept; runs of blank lines collapse to one.
func Normalize(s string) string {
	if s == "" {
		return s
	}
	s = norm.NFKC.String(s)
	s = reCRLF.ReplaceAllString(s, "\n")
	s = reTabs.ReplaceAllString(s, " ")
	s = reBoxNoise.ReplaceAllString(s, "")
	s = reMultiSpace.ReplaceAllString(s, " ")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	s = strings.Join(lines, "\n")

	s = reO0Artifacts.ReplaceAllString(s, "0$1$2")
	s = reDigitL.ReplaceAllString(s, "${1}1$2")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
