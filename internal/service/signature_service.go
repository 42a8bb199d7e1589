package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"crm-webhook-engine/internal/core/ports"
)

var _ ports.Signer = HMACSigner{}

// HMACSigner signs webhook bodies with HMAC-SHA256, hex encoded. Receivers
// recompute it over the raw request body with their subscription secret.
type HMACSigner struct{}

func NewHMACSigner() HMACSigner {
	return HMACSigner{}
}

// Sign never fails; an empty secret is a valid, if weak, key.
func (HMACSigner) Sign(secretKey string, payload string) string {
	return hex.EncodeToString(digest(secretKey, payload))
}

// Verify accepts the signature in either hex case and compares in constant time.
func (HMACSigner) Verify(secretKey string, payload string, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) != sha256.Size {
		return false
	}
	return hmac.Equal(got, digest(secretKey, payload))
}

func digest(secretKey, payload string) []byte {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}
