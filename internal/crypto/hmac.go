package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Header names sent with authenticated AI resolver requests.
const (
	HeaderAPIKey    = "X-Resolver-Key"
	HeaderTimestamp = "X-Resolver-Timestamp"
	HeaderSignature = "X-Resolver-Signature"
)

// RequestAuth signs AI resolver requests with HMAC-SHA256 over
// timestamp + method + path + body.
type RequestAuth struct {
	Key    string
	Secret string // base64; raw bytes are used if it does not decode
}

// Enabled reports whether credentials are present.
func (a *RequestAuth) Enabled() bool {
	return a != nil && a.Key != "" && a.Secret != ""
}

// Headers returns the auth headers for a request made now.
func (a *RequestAuth) Headers(method, path string, body []byte) map[string]string {
	return a.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers with a caller-supplied Unix timestamp.
func (a *RequestAuth) HeadersAt(method, path string, body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderAPIKey:    a.Key,
		HeaderTimestamp: ts,
		HeaderSignature: hmacSHA256Base64(a.secretBytes(), ts+method+path+string(body)),
	}
}

// Apply sets the auth headers on req. body must be the exact request body.
func (a *RequestAuth) Apply(req *http.Request, body []byte) {
	if !a.Enabled() {
		return
	}
	for k, v := range a.Headers(req.Method, req.URL.Path, body) {
		req.Header.Set(k, v)
	}
}

// Verify checks a signature produced by HeadersAt, rejecting timestamps
// more than maxSkew away from now.
func (a *RequestAuth) Verify(method, path string, body []byte, ts, sig string, now time.Time, maxSkew time.Duration) bool {
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	skew := now.Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return false
	}
	want := hmacSHA256Base64(a.secretBytes(), ts+method+path+string(body))
	return hmac.Equal([]byte(want), []byte(sig))
}

func (a *RequestAuth) secretBytes() []byte {
	b, err := base64.StdEncoding.DecodeString(a.Secret)
	if err != nil {
		return []byte(a.Secret)
	}
	return b
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (a *RequestAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("RequestAuth{key=%s, secret=%s}", redact(a.Key), redact(a.Secret))
}
