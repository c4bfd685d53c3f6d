package clob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"polytrader/internal/domain"
	"polytrader/internal/infra"
)

// Signer produces the CLOB's L2 authentication headers: an HMAC-SHA256
// signature over timestamp+method+path+body using the url-safe base64 decoded
// API secret. Stateless and deterministic: the caller supplies the timestamp,
// generated once per logical request and reused across retries so the
// exchange sees identical signatures for a retried call.
type Signer struct {
	apiKey     string
	secret     string
	passphrase string
	address    string
}

// NewSigner creates a Signer from the process credential.
func NewSigner(cred *infra.Credential) *Signer {
	return &Signer{
		apiKey:     cred.APIKey,
		secret:     cred.APISecret,
		passphrase: cred.APIPassphrase,
		address:    cred.Address,
	}
}

// GenerateHeaders builds the auth headers for one request.
// method: GET, POST, DELETE
// path: /data/orders (no host, no query)
// body: json string (empty if none)
// timestamp: unix seconds, fixed per logical request
func (s *Signer) GenerateHeaders(method, path, body string, timestamp int64) (map[string]string, error) {
	sig, err := s.sign(method, path, body, timestamp)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"POLY_ADDRESS":    s.address,
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  fmt.Sprintf("%d", timestamp),
		"POLY_API_KEY":    s.apiKey,
		"POLY_PASSPHRASE": s.passphrase,
		"Content-Type":    "application/json",
	}, nil
}

func (s *Signer) sign(method, path, body string, timestamp int64) (string, error) {
	key, err := base64.URLEncoding.DecodeString(s.secret)
	if err != nil {
		return "", &domain.SigningError{Op: "decode secret", Err: err}
	}

	message := fmt.Sprintf("%d%s%s%s", timestamp, method, path, body)

	h := hmac.New(sha256.New, key)
	h.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(h.Sum(nil)), nil
}
