package kit

import "context"

type contextKey string

const (
	RequestIDKey  contextKey = "kit_request_id"
	TransportKey  contextKey = "kit_transport" // "http", "mcp"
	SessionKeyKey contextKey = "kit_session_key"
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

// GetTransport returns the transport the request arrived on, defaulting to
// "http".
func GetTransport(ctx context.Context) string {
	v, _ := ctx.Value(TransportKey).(string)
	if v == "" {
		return "http"
	}
	return v
}

func WithSessionKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, SessionKeyKey, key)
}

func GetSessionKey(ctx context.Context) string {
	v, _ := ctx.Value(SessionKeyKey).(string)
	return v
}
