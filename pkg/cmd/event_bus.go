// Package cmd wires the shared infrastructure (event bus, persistence,
// Redis) from CLI flags for the nodeflow binaries.
package cmd

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/nodeflow-dev/nodeflow/pkg/channels/gochannel"
	"github.com/nodeflow-dev/nodeflow/pkg/eventbus"
)

func NewEventBus(provider string, logger *slog.Logger) eventbus.EventBus {
	switch provider {
	case "memory", "gochannel":
		pub, sub := gochannel.CreateChannel(watermill.NewSlogLogger(logger))

		return eventbus.NewWatermillEventBus(pub, sub)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
