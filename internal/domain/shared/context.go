package shared

import "context"

// RequestMeta carries per-request identifiers through every engine call.
// It replaces any process-wide session state: each request brings its own.
type RequestMeta struct {
	// SessionID identifies the client session that issued the request.
	SessionID string

	// CorrelationID ties together every event produced by one request.
	CorrelationID string
}

type requestMetaKey struct{}

// WithRequestMeta attaches request metadata to the context.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFrom returns the request metadata attached to ctx, if any.
func RequestMetaFrom(ctx context.Context) RequestMeta {
	if meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta); ok {
		return meta
	}
	return RequestMeta{}
}
