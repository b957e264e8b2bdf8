// Package channels connects chat surfaces other than HTTP to the genie chat
// service.
package channels

import (
	"context"
)

// Channel is a messaging platform integration.
type Channel interface {
	Name() string
	// Start blocks until ctx is canceled or a fatal error occurs.
	Start(ctx context.Context) error
}

// ChatService answers one question on behalf of an authenticated client.
// *engine.ChatService satisfies it.
type ChatService interface {
	Chat(ctx context.Context, clientID, secret, question string) (string, error)
}
