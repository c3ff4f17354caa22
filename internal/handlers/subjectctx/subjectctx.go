package subjectctx

import (
	"context"

	"github.com/nkiryanov/shopguard/internal/models"
)

type ctxKey string

const claimsKey ctxKey = "claims"

// Create a new context with verified access token claims
func New(ctx context.Context, c models.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// Extract verified claims from the context
func FromContext(ctx context.Context) (models.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(models.Claims)
	return c, ok
}
