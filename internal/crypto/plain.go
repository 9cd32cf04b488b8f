package crypto

import (
	"context"
	"strings"
)

const plainPrefix = "plain:"

// PlainEncryptor is the dev-mode Encryptor. It only tags the value so stored
// records show that they were never encrypted.
type PlainEncryptor struct{}

func NewPlainEncryptor() *PlainEncryptor {
	return &PlainEncryptor{}
}

func (PlainEncryptor) Encrypt(_ context.Context, plaintext string) (string, error) {
	return plainPrefix + plaintext, nil
}

func (PlainEncryptor) Decrypt(_ context.Context, ciphertext string) (string, error) {
	return strings.TrimPrefix(ciphertext, plainPrefix), nil
}
