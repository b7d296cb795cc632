// Package registry validates per-node-type configuration payloads against
// JSON schemas at node save time, so malformed configs never reach the
// executor.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/nodeflow-dev/nodeflow/pkg/models"
)

// ErrInvalidNodeConfig wraps schema validation failures.
var ErrInvalidNodeConfig = errors.New("invalid node config")

var nodeConfigSchemas = map[models.NodeType]string{
	models.NodeTypeDeviceControl: deviceSchema,
	models.NodeTypeObjectAction:  deviceSchema,
	models.NodeTypeAgentMessage:  agentSchema,
	models.NodeTypeAgentAction:   agentSchema,
	models.NodeTypeCondition: `{
		"type": "object",
		"required": ["condition"],
		"properties": {
			"condition": {
				"type": "object",
				"required": ["expression"],
				"properties": {
					"expression": {"type": "string", "minLength": 1}
				}
			}
		}
	}`,
	models.NodeTypeDelay: `{
		"type": "object",
		"required": ["delay"],
		"properties": {
			"delay": {
				"type": "object",
				"required": ["delay_ms"],
				"properties": {
					"delay_ms": {"type": ["integer", "number", "string"]}
				}
			}
		}
	}`,
	models.NodeTypeTimer: `{
		"type": "object",
		"required": ["timer"],
		"properties": {
			"timer": {
				"type": "object",
				"properties": {
					"unit": {"enum": ["minute", "hour", "day", "week", "month"]},
					"value": {"type": "integer", "minimum": 1},
					"second": {"type": "integer", "minimum": 0, "maximum": 59},
					"minute": {"type": "integer", "minimum": 0, "maximum": 59},
					"hour": {"type": "integer", "minimum": 0, "maximum": 23},
					"cron": {"type": "string"},
					"data": {"type": "object"}
				}
			}
		}
	}`,
	models.NodeTypeReceiver: `{
		"type": "object",
		"properties": {
			"receiver": {
				"type": "object",
				"properties": {
					"client_id": {"type": "string"}
				}
			}
		}
	}`,
}

const deviceSchema = `{
	"type": "object",
	"required": ["device"],
	"properties": {
		"device": {
			"type": "object",
			"required": ["device_id", "property", "action"],
			"properties": {
				"device_id": {"type": "string", "minLength": 1},
				"property": {"type": "string", "minLength": 1},
				"action": {"enum": ["on", "off", "toggle", "set"]}
			}
		}
	}
}`

const agentSchema = `{
	"type": "object",
	"required": ["agent"],
	"properties": {
		"agent": {
			"type": "object",
			"required": ["agent_id", "prompt"],
			"properties": {
				"agent_id": {"type": "string", "minLength": 1},
				"prompt": {"type": "string", "minLength": 1},
				"return_mode": {"enum": ["text", "audio"]},
				"client_id": {"type": "string"}
			}
		}
	}
}`

// ValidateNodeConfig checks a node's configuration against the schema for
// its type. Types without a schema (start, end, button) accept only an
// empty config; that is enforced by NodeConfig.ValidateFor.
func ValidateNodeConfig(nodeType models.NodeType, config models.NodeConfig) error {
	if err := config.ValidateFor(nodeType); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidNodeConfig, err)
	}

	schema, ok := nodeConfigSchemas[nodeType]
	if !ok {
		return nil
	}

	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidNodeConfig, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidNodeConfig, err)
	}

	if !result.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidNodeConfig, result.Errors())
	}

	return nil
}
