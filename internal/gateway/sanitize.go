package gateway

import (
	"regexp"
	"strings"
)

const genericMessage = "Não foi possível processar o pagamento. Tente novamente mais tarde."

var (
	urlPattern   = regexp.MustCompile(`https?://\S+`)
	noisePattern = regexp.MustCompile(`(?i)\b(suitpay|xbank(access)?|undefined|null|nan|internal server error|request failed|provider error|credentials rejected|request rejected)\b:?`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// SanitizeMessage remove do texto do PSP nomes de gateway, URLs e ruído
// técnico antes de mostrá-lo ao usuário final.
func SanitizeMessage(raw string) string {
	msg := urlPattern.ReplaceAllString(raw, "")
	msg = noisePattern.ReplaceAllString(msg, "")
	msg = spacePattern.ReplaceAllString(msg, " ")
	msg = strings.Trim(msg, " :-.,")
	if msg == "" {
		return genericMessage
	}
	return msg
}
