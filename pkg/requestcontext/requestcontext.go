// Package requestcontext carries request-scoped values between middleware
// and handlers: the request id, the client address, the browsing-context
// visitor id and, when signed in, the user identity.
package requestcontext

import (
	"context"

	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
)

type (
	requestIDKey struct{}
	clientIPKey  struct{}
	visitorKey   struct{}
	identityKey  struct{}
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID returns the request id, or "" outside an HTTP request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithVisitorID(ctx context.Context, visitorID string) context.Context {
	return context.WithValue(ctx, visitorKey{}, visitorID)
}

func VisitorID(ctx context.Context) string {
	id, _ := ctx.Value(visitorKey{}).(string)
	return id
}

func WithIdentity(ctx context.Context, identity models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// Identity returns the signed-in user, or false for anonymous requests.
func Identity(ctx context.Context) (models.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(models.Identity)
	if !ok || identity.IsZero() {
		return models.Identity{}, false
	}
	return identity, true
}

// Subject assembles the consent subject for the request.
func Subject(ctx context.Context) models.Subject {
	subject := models.Subject{VisitorID: VisitorID(ctx)}
	if identity, ok := Identity(ctx); ok {
		subject.User = &identity
	}
	return subject
}
