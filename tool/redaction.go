package tool

import "strings"

// MaskedSecretValue replaces sensitive values in user-facing output.
const MaskedSecretValue = "**********"

// MaskSecret returns MaskedSecretValue for any non-empty value.
func MaskSecret(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return MaskedSecretValue
}

var sensitiveArgumentKeys = []string{
	"card", "cvv", "cvc", "account_number", "iban", "password", "secret", "token", "api_key",
}

// RedactArguments returns a copy of args with values under sensitive-looking
// keys masked. Only the top level is inspected.
func RedactArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for key, value := range args {
		if isSensitiveKey(key) {
			out[key] = MaskedSecretValue
			continue
		}
		out[key] = value
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range sensitiveArgumentKeys {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
