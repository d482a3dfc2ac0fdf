package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"relay/internal/server/database"
)

const (
	codeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

	// maxCodeAttempts bounds redraws before the code space is declared full.
	maxCodeAttempts = 64
)

// generateCode draws a random code of the given length from codeAlphabet.
func generateCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("%w: code length %d", ErrInvalidInput, length)
	}
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		result[i] = codeAlphabet[n.Int64()]
	}
	return string(result), nil
}

// claimCode stores entry under a freshly drawn code. The check and the write
// are one registry operation, so concurrent callers never share a code.
func (s *RelayService) claimCode(ctx context.Context, entry *database.Entry) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateCode(s.cfg.CodeLength)
		if err != nil {
			return "", err
		}
		err = s.registry.Insert(ctx, code, entry)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, database.ErrCodeTaken) {
			return "", fmt.Errorf("failed to store entry: %w", err)
		}
		codeCollisionsTotal.Inc()
	}
	return "", ErrCodeSpaceExhausted
}
