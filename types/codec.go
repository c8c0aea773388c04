package types

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Role Role            `json:"role"`
	Data json.RawMessage `json:"data"`
}

// MarshalMessage encodes m together with its role so it can be decoded back
// into the right concrete type.
func MarshalMessage(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("marshal message: nil message")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s message: %w", m.Role(), err)
	}
	return json.Marshal(envelope{Role: m.Role(), Data: data})
}

// UnmarshalMessage decodes a message produced by MarshalMessage.
func UnmarshalMessage(b []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("unmarshal message envelope: %w", err)
	}

	var m Message
	switch env.Role {
	case RoleUser:
		m = &UserMessage{}
	case RoleAssistant:
		m = &AssistantMessage{}
	case RoleTool:
		m = &ToolMessage{}
	case RoleCheckpoint:
		m = &CheckpointMessage{}
	case RoleInterruptedTool:
		m = &InterruptedToolMessage{}
	default:
		return nil, fmt.Errorf("unmarshal message: unknown role %q", env.Role)
	}
	if err := json.Unmarshal(env.Data, m); err != nil {
		return nil, fmt.Errorf("unmarshal %s message: %w", env.Role, err)
	}
	return m, nil
}
