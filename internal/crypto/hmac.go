package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Gateway auth header names.
const (
	HeaderAPIKey    = "X-Statera-Key"
	HeaderTimestamp = "X-Statera-Timestamp"
	HeaderSignature = "X-Statera-Signature"
)

// HMACAuth authenticates requests to the contract gateway.
type HMACAuth struct {
	Key    string
	Secret string
}

// Headers signs method+path+body at the current time.
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is Headers with a caller-supplied Unix timestamp.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderAPIKey:    h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: hmacSHA256Base64([]byte(h.Secret), ts+method+path+body),
	}
}

// Verify checks a signature produced by HeadersAt.
func (h *HMACAuth) Verify(method, path, body, ts, sig string) bool {
	want := hmacSHA256Base64([]byte(h.Secret), ts+method+path+body)
	return hmac.Equal([]byte(want), []byte(sig))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}

func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
