package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nodeflow-dev/nodeflow/pkg/models"
	"github.com/nodeflow-dev/nodeflow/pkg/registry"
)

func TestValidateNodeConfig(t *testing.T) {
	tests := []struct {
		name     string
		nodeType models.NodeType
		config   models.NodeConfig
		wantErr  bool
	}{
		{
			name:     "valid device config",
			nodeType: models.NodeTypeDeviceControl,
			config: models.NodeConfig{Device: &models.DeviceConfig{
				DeviceID: "lamp", Property: "power", Action: models.DeviceActionToggle,
			}},
		},
		{
			name:     "device config with invalid action",
			nodeType: models.NodeTypeDeviceControl,
			config: models.NodeConfig{Device: &models.DeviceConfig{
				DeviceID: "lamp", Property: "power", Action: "explode",
			}},
			wantErr: true,
		},
		{
			name:     "agent config missing prompt",
			nodeType: models.NodeTypeAgentAction,
			config:   models.NodeConfig{Agent: &models.AgentConfig{AgentID: "tutor"}},
			wantErr:  true,
		},
		{
			name:     "valid agent config",
			nodeType: models.NodeTypeAgentMessage,
			config: models.NodeConfig{Agent: &models.AgentConfig{
				AgentID: "tutor", Prompt: "Summarize ${topic}", ReturnMode: models.AgentReturnAudio,
			}},
		},
		{
			name:     "condition requires expression",
			nodeType: models.NodeTypeCondition,
			config:   models.NodeConfig{Condition: &models.ConditionConfig{}},
			wantErr:  true,
		},
		{
			name:     "delay accepts template string",
			nodeType: models.NodeTypeDelay,
			config:   models.NodeConfig{Delay: &models.DelayConfig{DelayMs: "${pause}"}},
		},
		{
			name:     "timer with interval schedule",
			nodeType: models.NodeTypeTimer,
			config:   models.NodeConfig{Timer: &models.TimerConfig{Unit: models.IntervalDay, Value: 1}},
		},
		{
			name:     "start node takes no config",
			nodeType: models.NodeTypeStart,
			config:   models.NodeConfig{},
		},
		{
			name:     "mismatched payload rejected",
			nodeType: models.NodeTypeCondition,
			config:   models.NodeConfig{Delay: &models.DelayConfig{DelayMs: 10}},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := registry.ValidateNodeConfig(tt.nodeType, tt.config)
			if tt.wantErr {
				assert.ErrorIs(t, err, registry.ErrInvalidNodeConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
