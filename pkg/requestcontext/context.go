// Package requestcontext carries request-scoped values from middleware to
// services without importing net/http.
//
//	log.InfoContext(ctx, "resolved", "request_id", requestcontext.RequestID(ctx))
//
// Tests pin the clock with WithTime.
package requestcontext

import (
	"context"
	"time"
)

type key int

const (
	keyRequestID key = iota
	keyRequestTime
	keyClient
)

// Client is the caller metadata captured at the edge.
type Client struct {
	IP        string
	UserAgent string
}

func value[T any](ctx context.Context, k key) (T, bool) {
	v, ok := ctx.Value(k).(T)
	return v, ok
}

// RequestID returns the request id, or "" outside a request.
func RequestID(ctx context.Context) string {
	id, _ := value[string](ctx, keyRequestID)
	return id
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// Now returns the time the request arrived. Outside a request it is the
// wall clock.
func Now(ctx context.Context) time.Time {
	if t, ok := value[time.Time](ctx, keyRequestTime); ok {
		return t
	}
	return time.Now()
}

func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, keyRequestTime, t)
}

func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	return context.WithValue(ctx, keyClient, Client{IP: clientIP, UserAgent: userAgent})
}

func ClientIP(ctx context.Context) string {
	c, _ := value[Client](ctx, keyClient)
	return c.IP
}

func UserAgent(ctx context.Context) string {
	c, _ := value[Client](ctx, keyClient)
	return c.UserAgent
}
