package common

import "context"

type ctxKey string

const (
	driverIDKey ctxKey = "auth/driver-id"
	roleKey     ctxKey = "auth/role"
)

// WithDriverID stores the authenticated driver identifier on the context.
func WithDriverID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, driverIDKey, id)
}

// DriverID extracts the authenticated driver identifier from the context.
func DriverID(ctx context.Context) (string, bool) {
	v := ctx.Value(driverIDKey)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// WithRole stores the authenticated principal's role on the context.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey, role)
}

// Role extracts the principal's role from the context.
func Role(ctx context.Context) (string, bool) {
	v := ctx.Value(roleKey)
	if v == nil {
		return "", false
	}
	role, ok := v.(string)
	return role, ok
}
