package uas

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// ClaimsLocalsKey is the fiber locals key the middleware stores claims under.
const ClaimsLocalsKey = "uas.claims"

// WithClaimsContext sets the Claims in the given context
func WithClaimsContext(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, claims)
}

// ClaimsFromContext extracts the Claims from the standard context
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(*Claims)
	return raw, ok && raw != nil
}

// ClaimsFromFiber extracts the Claims stored by the Protected middleware.
func ClaimsFromFiber(c *fiber.Ctx) (*Claims, bool) {
	raw, ok := c.Locals(ClaimsLocalsKey).(*Claims)
	if ok && raw != nil {
		return raw, true
	}
	return ClaimsFromContext(c.UserContext())
}

// HasRole checks the claims in ctx for the role.
func HasRole(ctx context.Context, role Role) bool {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return false
	}
	return Authorize(claims, role)
}
