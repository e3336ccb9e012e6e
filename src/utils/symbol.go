package utils

import (
	"regexp"
	"strings"
)

var (
	suffixPattern = regexp.MustCompile(`(?i)\.(KS|KQ)$`)
	codePattern   = regexp.MustCompile(`^\d{6}$`)
)

// -----------------------------------------------------------------------------

// StripSymbolSuffix removes a Yahoo-style .KS / .KQ suffix.
func StripSymbolSuffix(symbol string) string {
	return strings.TrimSpace(suffixPattern.ReplaceAllString(strings.TrimSpace(symbol), ""))
}

// -----------------------------------------------------------------------------

// NormalizeSymbol returns the 6-digit KRX code for symbol, or false when the
// input does not reduce to one.
func NormalizeSymbol(symbol string) (string, bool) {
	code := strings.ToUpper(StripSymbolSuffix(symbol))
	if !codePattern.MatchString(code) {
		return "", false
	}
	return code, true
}

// -----------------------------------------------------------------------------

// YahooSymbol maps a KRX code to its Yahoo ticker. Codes carry no market, so
// every code is quoted on the KOSPI board.
func YahooSymbol(code string) string {
	return StripSymbolSuffix(code) + ".KS"
}
