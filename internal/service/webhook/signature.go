package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer проверяет подлинность входящих webhook-событий провайдера.
// Секрет передаётся конфигурацией; пустой секрет означает явный insecure-режим.
type Signer struct {
	secret []byte
}

// NewSigner создаёт проверку подписи с общим секретом.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Enabled сообщает, настроен ли секрет.
func (s *Signer) Enabled() bool {
	return len(s.secret) > 0
}

// Sign возвращает hex-представление HMAC-SHA256 от тела запроса.
func (s *Signer) Sign(body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify сравнивает подпись с ожидаемой. Сравнение константное по времени:
// hmac.Equal не даёт утечки длины совпавшего префикса.
func (s *Signer) Verify(signature string, body []byte) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hmac.Equal(expected, mac.Sum(nil))
}
