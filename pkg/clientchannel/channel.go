// Package clientchannel delivers workflow output to connected clients.
package clientchannel

import (
	"context"
	"io"
	"log/slog"
)

// Delivery is one unit of client-bound output: either text or an audio
// stream, never both.
type Delivery struct {
	Text        string
	AudioStream io.Reader
}

// Channel is the client delivery contract used by receiver nodes and
// streamed agent output. Implementations (WebSocket, push, ...) live
// outside the engine.
type Channel interface {
	Deliver(ctx context.Context, clientID string, delivery Delivery) error
}

// LogChannel logs deliveries instead of transporting them. Used in
// deployments without a client transport and in tests.
type LogChannel struct {
	logger *slog.Logger
}

func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logger.With("module", "client_channel")}
}

func (c *LogChannel) Deliver(ctx context.Context, clientID string, delivery Delivery) error {
	c.logger.InfoContext(ctx, "Delivering to client",
		"client_id", clientID,
		"text_len", len(delivery.Text),
		"audio", delivery.AudioStream != nil,
	)

	return nil
}

var _ Channel = (*LogChannel)(nil)
