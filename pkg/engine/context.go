package engine

import "context"

type contextKey string

const clientIPKey contextKey = "client_ip"

// WithClientIP stores the caller's remote address on the context so audit
// events emitted deep in the pipeline can carry it.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

func clientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}
