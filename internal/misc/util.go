package misc

import "strings"

// RedactSecret returns a marker safe to print in place of a secret value
func RedactSecret(value string) string {
	if value == "" {
		return "***NOT SET***"
	}
	return "***SET***"
}

// IsSensitiveKey reports whether a config or env key names secret material
func IsSensitiveKey(name string) bool {
	sensitive := []string{"secret", "passphrase", "password", "private", "token"}
	lower := strings.ToLower(name)
	for _, s := range sensitive {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
