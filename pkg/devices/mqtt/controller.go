// Package mqtt provides the MQTT device command transport.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nodeflow-dev/nodeflow/pkg/devices"
)

const (
	commandQoS     = 1
	publishTimeout = 5 * time.Second
	connectTimeout = 10 * time.Second
)

// Controller publishes property patches to per-device command topics:
// nodeflow/<domain>/devices/<device>/set.
type Controller struct {
	client pahomqtt.Client
	logger *slog.Logger
}

func NewController(brokerURL, clientID string, logger *slog.Logger) (*Controller, error) {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetOrderMatters(false)

	client := pahomqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: connect to %s timed out", devices.ErrDispatchFailed, brokerURL)
	}

	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", devices.ErrDispatchFailed, err)
	}

	logger.Info("Connected to MQTT broker", "broker", brokerURL, "client_id", clientID)

	return &Controller{
		client: client,
		logger: logger.With("module", "mqtt_device_controller"),
	}, nil
}

type commandPayload struct {
	Patch      map[string]any `json:"patch"`
	WorkflowID string         `json:"workflow_id"`
	NodeID     int            `json:"node_id"`
	IssuedAt   time.Time      `json:"issued_at"`
}

func (c *Controller) SendCommand(ctx context.Context, ref devices.CommandRef, deviceID string, patch map[string]any) error {
	payload, err := json.Marshal(commandPayload{
		Patch:      patch,
		WorkflowID: ref.WorkflowID,
		NodeID:     ref.NodeID,
		IssuedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", devices.ErrDispatchFailed, err)
	}

	topic := fmt.Sprintf("nodeflow/%s/devices/%s/set", ref.DomainID, deviceID)

	token := c.client.Publish(topic, commandQoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: publish to %s timed out", devices.ErrDispatchFailed, topic)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", devices.ErrDispatchFailed, err)
	}

	c.logger.DebugContext(ctx, "Device command published", "topic", topic, "device_id", deviceID)

	return nil
}

func (c *Controller) Close() {
	c.client.Disconnect(250)
}

var _ devices.Controller = (*Controller)(nil)
