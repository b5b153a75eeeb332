package gate

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Verifier checks a submitted passphrase.
type Verifier interface {
	Verify(passphrase string) bool
}

// PlainVerifier compares byte for byte against a shared secret held only on
// the server.
type PlainVerifier struct {
	secret []byte
}

func NewPlainVerifier(secret string) PlainVerifier {
	return PlainVerifier{secret: []byte(secret)}
}

func (p PlainVerifier) Verify(passphrase string) bool {
	if len(p.secret) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(passphrase), p.secret) == 1
}

// MaxBcryptPassphrase is the longest passphrase bcrypt hashes in full; it
// ignores anything past it.
const MaxBcryptPassphrase = 72

var ErrPassphraseTooLong = errors.New("passphrase longer than 72 bytes cannot be bcrypt-hashed exactly")

// BcryptVerifier checks against a bcrypt hash so the passphrase itself never
// has to be stored.
type BcryptVerifier struct {
	hash []byte
}

func NewBcryptVerifier(hash string) (BcryptVerifier, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return BcryptVerifier{}, errors.New("passphrase_hash is not a bcrypt hash")
	}
	return BcryptVerifier{hash: []byte(hash)}, nil
}

func (b BcryptVerifier) Verify(passphrase string) bool {
	// a longer attempt would match on its first 72 bytes alone
	if len(passphrase) > MaxBcryptPassphrase {
		return false
	}
	return bcrypt.CompareHashAndPassword(b.hash, []byte(passphrase)) == nil
}

// HashPassphrase returns a bcrypt hash suitable for passphrase_hash.
func HashPassphrase(passphrase string) (string, error) {
	if len(passphrase) > MaxBcryptPassphrase {
		return "", ErrPassphraseTooLong
	}
	h, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
