package trace

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const TraceIDKey contextKey = "trace_id"

// GenerateTraceID 生成一个新的 trace ID
func GenerateTraceID() string {
	return uuid.NewString()
}

// FromContext 从 context 中获取 trace_id
func FromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// WithContext 将 trace_id 添加到 context 中
func WithContext(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// FromRequest 从 HTTP header 中提取 trace_id（支持 X-Trace-ID 和 X-Request-ID），没有则生成新的
func FromRequest(r *http.Request) string {
	if id := r.Header.Get(HeaderName()); id != "" {
		return id
	}
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return GenerateTraceID()
}

// Detach 返回一个不随父 context 取消、但保留 trace_id 的 context
func Detach(ctx context.Context) context.Context {
	return WithContext(context.Background(), FromContext(ctx))
}

// HeaderName 返回 trace ID 的 HTTP header 名称
func HeaderName() string {
	return "X-Trace-ID"
}
