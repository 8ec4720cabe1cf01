package validation

import "regexp"

var (
	digitRun = regexp.MustCompile(`\d+`)
	// cardFieldPattern matches card-number keys in JSON ("cardNumber": "4111...") and delimited (CardNo=4111...) payloads.
	cardFieldPattern = regexp.MustCompile(`(?i)("?\b(?:card_?no|card_?num(?:ber)?|pan|acct_?num)"?\s*[:=]\s*"?)([\d -]{4,})`)
	// cvvPattern matches cvv-like keys in JSON ("cvv2": "123") and delimited (CVV2=123) payloads.
	cvvPattern = regexp.MustCompile(`(?i)("?cvv2?"?\s*[:=]\s*"?)(\d{3,4})`)
)

// Redact masks card numbers (all but the last four digits) and CVV values in free text such
// as raw processor payloads. A value under a card-number key is always masked; elsewhere only
// 13-19 digit runs passing the Luhn check are, so transaction ids and timestamps survive.
func Redact(s string) string {
	s = cardFieldPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := cardFieldPattern.FindStringSubmatch(m)
		return sub[1] + maskDigits(sub[2])
	})
	s = digitRun.ReplaceAllStringFunc(s, func(run string) string {
		if len(run) < 13 || len(run) > 19 || !luhn(run) {
			return run
		}
		return maskDigits(run)
	})
	return cvvPattern.ReplaceAllString(s, "${1}***")
}

// maskDigits replaces every digit but the last four with '*', keeping separators.
func maskDigits(v string) string {
	keep := 4
	out := []byte(v)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < '0' || out[i] > '9' {
			continue
		}
		if keep > 0 {
			keep--
			continue
		}
		out[i] = '*'
	}
	return string(out)
}
