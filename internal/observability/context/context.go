package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type actorKey struct{}
type clientKey struct{}

type actor struct {
	actorType string
	actorID   string
}

// ClientInfo carries the caller's network identity for forensic records.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{
		actorType: strings.TrimSpace(actorType),
		actorID:   strings.TrimSpace(actorID),
	})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	value, ok := ctx.Value(actorKey{}).(actor)
	if !ok {
		return "", ""
	}
	return value.actorType, value.actorID
}

func WithClientInfo(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey{}, ClientInfo{
		IPAddress: strings.TrimSpace(ip),
		UserAgent: strings.TrimSpace(userAgent),
	})
}

func ClientInfoFromContext(ctx context.Context) ClientInfo {
	if ctx == nil {
		return ClientInfo{}
	}
	value, _ := ctx.Value(clientKey{}).(ClientInfo)
	return value
}
