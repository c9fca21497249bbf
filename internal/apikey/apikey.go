// Package apikey generates and validates the bearer tokens used by the
// OpenAI-compatible API surface.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
)

// Prefix identifies keys issued by this server.
const Prefix = "localchat_sk-"

var keyFormat = regexp.MustCompile(`^localchat_sk-[a-f0-9]{32}$`)

// Generate returns a new API key: the fixed prefix followed by 32 lowercase
// hex characters from a CSPRNG.
func Generate() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails if the OS entropy source is broken.
		panic("apikey: rand.Read failed: " + err.Error())
	}
	return Prefix + hex.EncodeToString(buf)
}

// IsValidFormat reports whether key matches the issued-key format exactly.
func IsValidFormat(key string) bool {
	return keyFormat.MatchString(key)
}

// ExtractBearer pulls the token out of an Authorization header value.
// Returns "" if the header is missing or not a Bearer scheme.
func ExtractBearer(authorization string) string {
	if authorization == "" {
		return ""
	}
	const scheme = "bearer "
	if len(authorization) <= len(scheme) || !strings.EqualFold(authorization[:len(scheme)], scheme) {
		return ""
	}
	token := strings.TrimSpace(authorization[len(scheme):])
	return token
}

// Mask hides the middle of a key for display, keeping the first 8 and last 4
// characters. Keys too short to mask meaningfully collapse to "***".
func Mask(key string) string {
	if len(key) < 12 {
		return "***"
	}
	return key[:8] + strings.Repeat("*", len(key)-12) + key[len(key)-4:]
}
