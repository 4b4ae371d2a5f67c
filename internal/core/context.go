package core

import "context"

type contextKey string

const (
	ctxKeyClientIP  contextKey = "client_ip"
	ctxKeyUserAgent contextKey = "user_agent"
)

// ContextWithClient records who made a request so import logs can name
// them.
func ContextWithClient(ctx context.Context, ip, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyClientIP, ip)
	return context.WithValue(ctx, ctxKeyUserAgent, userAgent)
}

// ClientFromContext returns the client recorded by ContextWithClient.
func ClientFromContext(ctx context.Context) (ip, userAgent string) {
	ip, _ = ctx.Value(ctxKeyClientIP).(string)
	userAgent, _ = ctx.Value(ctxKeyUserAgent).(string)
	return ip, userAgent
}

// clientLogArgs returns slog attributes for the recorded client, if any.
func clientLogArgs(ctx context.Context) []any {
	ip, ua := ClientFromContext(ctx)
	var args []any
	if ip != "" {
		args = append(args, "client_ip", ip)
	}
	if ua != "" {
		args = append(args, "user_agent", ua)
	}
	return args
}
