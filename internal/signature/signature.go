// Package signature authenticates inbound provider webhooks.
package signature

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"net/http"
	"strings"

	"github.com/example/message-gateway/internal/domain"
)

type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA1   Algorithm = "sha1"
	MD5    Algorithm = "md5"
	Bearer Algorithm = "bearer"
	Basic  Algorithm = "basic"
	None   Algorithm = "none"
)

// SignatureValidationError reports a rejected webhook authentication. Reason never
// includes secret material.
type SignatureValidationError struct {
	Reason string
}

func (e *SignatureValidationError) Error() string {
	if e.Reason == "" {
		return "webhook signature verification failed"
	}
	return "webhook signature verification failed: " + e.Reason
}

func hasher(alg Algorithm) func() hash.Hash {
	switch alg {
	case SHA256, "":
		return sha256.New
	case SHA1:
		return sha1.New
	case MD5:
		return md5.New
	}
	return nil
}

// Validate checks an HMAC signature of body. The digest may be hex (any case) or
// base64, optionally preceded by prefix such as "sha256=".
func Validate(body []byte, signature, secret string, alg Algorithm, prefix string) bool {
	if alg == None {
		return true
	}
	newHash := hasher(alg)
	if newHash == nil || signature == "" {
		return false
	}
	sig := strings.TrimSpace(signature)
	if prefix != "" {
		sig = strings.TrimPrefix(sig, prefix)
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if got, err := hex.DecodeString(sig); err == nil && len(got) == len(expected) {
		return hmac.Equal(got, expected)
	}
	if got, err := base64.StdEncoding.DecodeString(sig); err == nil {
		return hmac.Equal(got, expected)
	}
	return false
}

// ValidateBasicAuth checks an "Authorization: Basic ..." header value.
func ValidateBasicAuth(header, user, pass string) bool {
	const scheme = "Basic "
	if !strings.HasPrefix(header, scheme) {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(scheme):]))
	if err != nil {
		return false
	}
	gotUser, gotPass, ok := strings.Cut(string(raw), ":")
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(gotUser), []byte(user)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(gotPass), []byte(pass)) == 1
	return userOK && passOK
}

// ValidateBearerToken checks an "Authorization: Bearer ..." header value.
func ValidateBearerToken(header, token string) bool {
	const scheme = "Bearer "
	if token == "" || !strings.HasPrefix(header, scheme) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(header[len(scheme):]), []byte(token)) == 1
}

// Verify applies cfg to an inbound request. A disabled config always passes.
func Verify(cfg domain.SignatureConfig, headers http.Header, body []byte) error {
	if !cfg.Enabled {
		return nil
	}
	alg := Algorithm(strings.ToLower(strings.TrimSpace(cfg.Algorithm)))
	headerName := cfg.HeaderName
	if headerName == "" {
		switch alg {
		case Bearer, Basic:
			headerName = "Authorization"
		default:
			return &SignatureValidationError{Reason: "no signature header configured"}
		}
	}
	value := headers.Get(headerName)

	var ok bool
	switch alg {
	case None:
		ok = true
	case Bearer:
		ok = ValidateBearerToken(value, cfg.SecretKey)
	case Basic:
		ok = ValidateBasicAuth(value, cfg.Username, cfg.Password)
	case SHA256, SHA1, MD5, "":
		ok = cfg.SecretKey != "" && Validate(body, value, cfg.SecretKey, alg, cfg.Prefix)
	default:
		return &SignatureValidationError{Reason: "unsupported algorithm"}
	}
	if !ok {
		return &SignatureValidationError{}
	}
	return nil
}
