package auth

import "context"

type claimsKey struct{}

// WithClaims returns a copy of ctx carrying the caller's claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// FromContext returns the claims stored by WithClaims. ok is false for anonymous requests.
func FromContext(ctx context.Context) (claims *Claims, ok bool) {
	claims, ok = ctx.Value(claimsKey{}).(*Claims)
	return claims, ok && claims != nil
}
