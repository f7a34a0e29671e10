package langdetect

import "strings"

// NormalizeCode reduces a language tag such as "en_US" or "pt-BR" to its
// lower-case primary subtag. Blank or malformed tags yield "".
func NormalizeCode(raw string) string {
	tag := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "_", "-")
	primary, _, _ := strings.Cut(tag, "-")
	if len(primary) < 2 || len(primary) > 3 {
		return ""
	}
	for _, r := range primary {
		if r < 'a' || r > 'z' {
			return ""
		}
	}
	return primary
}
