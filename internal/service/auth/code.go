package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/nkiryanov/shopguard/internal/logger"
)

const codeDigits = 6

// Delivery of one-time codes to the mobile owner
type CodeSender interface {
	SendCode(ctx context.Context, mobile string, code string) error
}

// Sender that only writes codes to the log
// Stand-in for SMS gateway in development
type LogCodeSender struct {
	Logger logger.Logger
}

func (s LogCodeSender) SendCode(_ context.Context, mobile string, code string) error {
	s.Logger.Debug("One-time code issued", "mobile", mobile, "code", code)
	return nil
}

func generateCode() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("can't generate code. Err: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
