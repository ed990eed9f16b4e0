package goTrust

import "context"

type requestMetaKey struct{}

// requestMeta is the caller information copied onto audit events.
type requestMeta struct {
	clientIP  string
	requestID string
}

func metaFromContext(ctx context.Context) requestMeta {
	if ctx == nil {
		return requestMeta{}
	}
	m, _ := ctx.Value(requestMetaKey{}).(requestMeta)
	return m
}

// WithClientIP attaches the caller's IP address to ctx for audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	m := metaFromContext(ctx)
	m.clientIP = ip
	return context.WithValue(ctx, requestMetaKey{}, m)
}

// WithRequestID attaches a correlation id. Audit events carry it as the
// "request_id" metadata key.
func WithRequestID(ctx context.Context, id string) context.Context {
	m := metaFromContext(ctx)
	m.requestID = id
	return context.WithValue(ctx, requestMetaKey{}, m)
}
