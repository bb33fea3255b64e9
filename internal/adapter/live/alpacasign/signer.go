// Package alpacasign provides the request-signing primitive a live
// BrokerClient needs to authenticate REST calls. The wire format of those
// calls (which headers, which endpoints) is out of scope here; this
// package only turns an API secret into a per-request HMAC signature.
package alpacasign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations follows the OWASP-recommended floor for deriving
	// symmetric key material.
	pbkdf2Iterations = 480_000
	derivedKeyLen    = 32
)

// Signer produces HMAC-SHA256 signatures over canonical request strings
// using a key derived from an API secret, rather than the raw secret
// itself, so the secret never directly touches the signing path.
type Signer struct {
	derivedKey []byte
}

// NewSigner derives signing key material from apiSecret and a fixed,
// non-secret salt. Using PBKDF2 here is deliberately conservative -- the
// API secret is already high entropy, but deriving rather than using it
// raw keeps it off the wire and out of logs even under a signing bug.
func NewSigner(apiSecret string, salt []byte) (*Signer, error) {
	if apiSecret == "" {
		return nil, errors.New("alpacasign: api secret must not be empty")
	}
	if len(salt) == 0 {
		return nil, errors.New("alpacasign: salt must not be empty")
	}
	key := pbkdf2.Key([]byte(apiSecret), salt, pbkdf2Iterations, derivedKeyLen, sha256.New)
	return &Signer{derivedKey: key}, nil
}

// Sign returns the hex-encoded HMAC-SHA256 signature of canonical over the
// signer's derived key.
func (s *Signer) Sign(canonical []byte) string {
	mac := hmac.New(sha256.New, s.derivedKey)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is the correct signature for canonical,
// using a constant-time comparison.
func (s *Signer) Verify(canonical []byte, sig string) bool {
	expected, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.derivedKey)
	mac.Write(canonical)
	return hmac.Equal(mac.Sum(nil), expected)
}
