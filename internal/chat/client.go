package chat

import "context"

// Client is the outbound half of a messaging platform. Implementations must
// be safe for concurrent use; workers and timers send from their own goroutines.
type Client interface {
	// Send posts a new message and returns its ref.
	Send(ctx context.Context, out Outgoing) (MessageRef, error)

	// Edit replaces the text and keyboard of a message the bot sent earlier.
	Edit(ctx context.Context, ref MessageRef, out Outgoing) error

	// Answer acknowledges a callback, optionally with a short toast text.
	Answer(ctx context.Context, callbackID string, text string) error
}

// Source is the inbound half of a messaging platform.
type Source interface {
	// Updates starts delivering events. The channel is closed when ctx is
	// done or the source fails permanently.
	Updates(ctx context.Context) (<-chan Update, error)
}
