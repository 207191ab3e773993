package webhook

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// HashField é o campo que carrega a assinatura
const HashField = "hash"

// Canonicalize concatena os valores de todos os campos exceto hash, em ordem
// alfabética de chave. Strings entram sem aspas, números e booleanos como
// foram enviados, null como vazio e objetos/arrays como JSON compacto.
func Canonicalize(fields map[string]json.RawMessage) (string, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == HashField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v, err := canonicalValue(fields[k])
		if err != nil {
			return "", fmt.Errorf("field %q: %w", k, err)
		}
		b.WriteString(v)
	}
	return b.String(), nil
}

// Sign calcula SHA-256(secret + canonical) em hex minúsculo
func Sign(secret string, fields map[string]json.RawMessage) (string, error) {
	canonical, err := Canonicalize(fields)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(secret + canonical))
	return hex.EncodeToString(sum[:]), nil
}

// VerifyHash compara a assinatura recebida sem diferenciar maiúsculas
func VerifyHash(secret string, fields map[string]json.RawMessage, received string) (bool, error) {
	expected, err := Sign(secret, fields)
	if err != nil {
		return false, err
	}
	got := strings.ToLower(strings.TrimSpace(received))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1, nil
}

func canonicalValue(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return "", err
		}
		return buf.String(), nil
	case 'n':
		if string(trimmed) == "null" {
			return "", nil
		}
	}
	return string(trimmed), nil
}
