// Package requestcontext carries the request ID and the evaluation clock
// through contexts so services never touch net/http.
//
// HTTP middleware stamps both once per request; a monitoring pass stamps the
// clock once per snapshot so every rule and alert in that pass agrees on "now".
package requestcontext

import (
	"context"
	"time"
)

type key int

const (
	requestIDKey key = iota
	clockKey
)

// RequestID returns the ID stamped by middleware, or "" outside a request.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// Now returns the pinned evaluation time, or the wall clock when none is set.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(clockKey).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the evaluation time for everything downstream of ctx.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, clockKey, t)
}
