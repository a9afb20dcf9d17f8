package stages

import (
	"regexp"
	"strings"
)

// PII masking for event payloads and audit detail. Connector calls always
// receive the real values; only what leaves the system through events,
// audit records or logs is masked.

var (
	// phoneDigits matches Indian mobile-like sequences: an optional +91/0
	// prefix and 10 digits, tolerating space/dash separators.
	phonePattern = regexp.MustCompile(`(?:\+91[\s-]?|0)?\d{5}[\s-]?\d{5}`)

	pincodePattern = regexp.MustCompile(`\b\d{6}\b`)

	nonDigits = regexp.MustCompile(`\D`)
)

// MaskPhone keeps the last four digits: "9876543210" → "****3210".
func MaskPhone(phone string) string {
	digits := nonDigits.ReplaceAllString(phone, "")
	if len(digits) < 4 {
		return "****"
	}
	return "****" + digits[len(digits)-4:]
}

// MaskAddress hides the street detail, keeping only a trailing pincode when
// one is present.
func MaskAddress(address string) string {
	if strings.TrimSpace(address) == "" {
		return ""
	}
	if pin := pincodePattern.FindString(address); pin != "" {
		return "**** " + pin
	}
	return "****"
}

// MaskText masks phone-number-like sequences inside free-form text, for
// audit detail strings that may embed user context.
func MaskText(text string) string {
	return phonePattern.ReplaceAllStringFunc(text, MaskPhone)
}
