package job

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

var (
	ErrMissingSignature    = errors.New("missing signature")
	ErrSecretNotConfigured = errors.New("signing secret not configured")
	ErrInvalidSignature    = errors.New("invalid signature")
)

// Sign computes the base64 HMAC-SHA256 of the job's canonical form.
func Sign(j *Job, secret string) (string, error) {
	if secret == "" {
		return "", ErrSecretNotConfigured
	}
	canon, err := Canonical(j)
	if err != nil {
		return "", err
	}
	return mac(canon, secret), nil
}

// Verify recomputes the signature from the job itself and compares it to
// the sig field in constant time.
func Verify(j *Job, secret string) error {
	if j.Sig == "" {
		return ErrMissingSignature
	}
	if secret == "" {
		return ErrSecretNotConfigured
	}
	canon, err := Canonical(j)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(j.Sig), []byte(mac(canon, secret))) {
		return ErrInvalidSignature
	}
	return nil
}

func mac(data []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(data)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
