package authcore

import "context"

// requestMeta is what the transport knows about the caller.
type requestMeta struct {
	ip        string
	userAgent string
}

type requestMetaKey struct{}

func metaFrom(ctx context.Context) requestMeta {
	if ctx == nil {
		return requestMeta{}
	}
	m, _ := ctx.Value(requestMetaKey{}).(requestMeta)
	return m
}

// WithClientIP attaches the caller's IP address to ctx. Sessions record it
// and login throttling keys on it.
func WithClientIP(ctx context.Context, ip string) context.Context {
	m := metaFrom(ctx)
	m.ip = ip
	return context.WithValue(ctx, requestMetaKey{}, m)
}

// WithUserAgent attaches the raw User-Agent header to ctx. The engine
// summarises it into the session's device description.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	m := metaFrom(ctx)
	m.userAgent = userAgent
	return context.WithValue(ctx, requestMetaKey{}, m)
}

func clientIPFromContext(ctx context.Context) string {
	return metaFrom(ctx).ip
}

func userAgentFromContext(ctx context.Context) string {
	return metaFrom(ctx).userAgent
}
