package auth

import "context"

// Authentication methods.
const (
	MethodToken  = "token"
	MethodAPIKey = "api_key"
)

type contextKey struct{}

type AuthContext struct {
	AccountID string
	Email     string
	Method    string
	APIKeyID  string
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

// AccountID returns the authenticated account, or "" when unauthenticated.
func AccountID(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.AccountID
}

func ViaAPIKey(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	return ok && ac.Method == MethodAPIKey
}
