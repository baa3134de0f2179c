package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// Ctx retrieves the logger from the context.
// If no logger is found, the global logger is returned.
func Ctx(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return L()
}

// WithConnection returns a context whose logger carries the connection and
// room identifiers of a relay peer.
func WithConnection(ctx context.Context, clientID, roomID string) context.Context {
	c := Ctx(ctx).With().Str(FieldClientID, clientID)
	if roomID != "" {
		c = c.Str(FieldRoomID, roomID)
	}
	return WithLogger(ctx, c.Logger())
}
