package utils

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrCredentialMismatch = errors.New("credential mismatch")

// HashCredential returns a salted bcrypt hash of the credential. cost <= 0 uses bcrypt.DefaultCost.
func HashCredential(credential string, cost int) (string, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(credential), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CompareCredential checks credential against a stored bcrypt hash.
func CompareCredential(hash, credential string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(credential))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrCredentialMismatch
	}
	return err
}
