package profile

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	dottedThousands = regexp.MustCompile(`\d{1,3}(?:\.\d{3})+`)
	spacedThousands = regexp.MustCompile(`\d{1,3}(?:\s\d{3})+`)
	plainAmount     = regexp.MustCompile(`\d{4,7}`)
	nonDigits       = regexp.MustCompile(`[^\d]`)
	firstInt        = regexp.MustCompile(`\d+`)
	firstDigit      = regexp.MustCompile(`\d`)
	fourDigitYear   = regexp.MustCompile(`\d{4}`)
	decimalNumber   = regexp.MustCompile(`\d+[.,]?\d*`)
	kwValue         = regexp.MustCompile(`(?i)(\d+)\s*kW`)
	hpValue         = regexp.MustCompile(`(?i)(\d+)\s*(?:PS|hp|ch|CV)\b`)
)

// hpPerKW converts between kilowatts and horsepower
const hpPerKW = 1.36

// foldLabel normalizes a label for lookups: NFC, case-folded, trimmed, without a trailing colon
func foldLabel(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	s = cases.Fold().String(s)
	s = strings.TrimSpace(strings.TrimRight(s, ":"))
	return strings.Join(strings.Fields(s), " ")
}

// parsePrice reads European price formats: "€ 25.900", "25 900 €", "25900".
// A comma is a decimal separator, never a thousands separator.
func parsePrice(text string, currency []string) (int, bool) {
	if text == "" {
		return 0, false
	}
	cleaned := text
	for _, c := range currency {
		cleaned = strings.ReplaceAll(cleaned, c, "")
	}
	cleaned = strings.NewReplacer("\u00a0", " ", "\u202f", " ").Replace(cleaned)
	cleaned = strings.TrimSpace(cleaned)

	if m := dottedThousands.FindString(cleaned); m != "" {
		return atoi(strings.ReplaceAll(m, ".", ""))
	}
	if m := spacedThousands.FindString(cleaned); m != "" {
		return atoi(strings.Join(strings.Fields(m), ""))
	}
	if m := plainAmount.FindString(cleaned); m != "" {
		return atoi(m)
	}
	return 0, false
}

// digitsOnly keeps every digit: "50.000 km" -> 50000
func digitsOnly(text string) (int, bool) {
	return atoi(nonDigits.ReplaceAllString(text, ""))
}

func firstIntIn(text string) (int, bool) {
	return atoi(firstInt.FindString(text))
}

func firstDigitIn(text string) (int, bool) {
	return atoi(firstDigit.FindString(text))
}

func yearIn(text string) (int, bool) {
	return atoi(fourDigitYear.FindString(text))
}

func decimalIn(text string) (float64, bool) {
	m := decimalNumber.FindString(text)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// parsePower reads "110 kW (150 PS)" style values and completes the missing unit
func parsePower(text string) (kw, hp int, ok bool) {
	if m := kwValue.FindStringSubmatch(text); m != nil {
		kw, _ = atoi(m[1])
	}
	if m := hpValue.FindStringSubmatch(text); m != nil {
		hp, _ = atoi(m[1])
	}
	switch {
	case kw > 0 && hp == 0:
		hp = int(float64(kw) * hpPerKW)
	case hp > 0 && kw == 0:
		kw = int(float64(hp) / hpPerKW)
	}
	return kw, hp, kw > 0 || hp > 0
}

func atoi(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
