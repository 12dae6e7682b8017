package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type traceDataKey struct{}
type ownerKey struct{}

type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if ctx == nil {
		return nil
	}
	if td, ok := ctx.Value(traceDataKey{}).(*TraceData); ok {
		return td
	}
	return nil
}

// CorrelationID returns the request id attached by the HTTP layer, or a fresh id
// when the call did not originate from a request (workers, reaper).
func CorrelationID(ctx context.Context) string {
	if td := GetTraceData(ctx); td != nil {
		if td.RequestID != "" {
			return td.RequestID
		}
		if td.TraceID != "" {
			return td.TraceID
		}
	}
	return uuid.NewString()
}

func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

func OwnerID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(ownerKey{}).(string)
	return v
}
