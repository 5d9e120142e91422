// Package ocpp implements the OCPP 1.6-J wire format: JSON array frames
// and per-action payload validation.
package ocpp

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	MessageCall       = 2
	MessageCallResult = 3
	MessageCallError  = 4
)

// Error codes carried in CallError frames.
const (
	CodeNotImplemented     = "NotImplemented"
	CodeFormationViolation = "FormationViolation"
	CodePropertyConstraint = "PropertyConstraintViolation"
	CodeInternalError      = "InternalError"
	CodeGenericError       = "GenericError"
)

// ErrMalformedFrame classifies frames that cannot be parsed at all. No
// reply is owed for these; the connection stays up.
var ErrMalformedFrame = errors.New("malformed frame")

type Call struct {
	UniqueId string
	Action   string
	Payload  map[string]any
}

// ParseCall decodes a [2, uniqueId, action, payload] frame.
func ParseCall(raw []byte) (*Call, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(parts) < 4 {
		return nil, fmt.Errorf("%w: %d elements", ErrMalformedFrame, len(parts))
	}

	var msgType int
	if err := json.Unmarshal(parts[0], &msgType); err != nil {
		return nil, fmt.Errorf("%w: non-numeric message type", ErrMalformedFrame)
	}
	if msgType != MessageCall {
		return nil, fmt.Errorf("%w: message type %d", ErrMalformedFrame, msgType)
	}

	var c Call
	if err := json.Unmarshal(parts[1], &c.UniqueId); err != nil || c.UniqueId == "" {
		return nil, fmt.Errorf("%w: bad unique id", ErrMalformedFrame)
	}
	if err := json.Unmarshal(parts[2], &c.Action); err != nil || c.Action == "" {
		return nil, fmt.Errorf("%w: bad action", ErrMalformedFrame)
	}
	if err := json.Unmarshal(parts[3], &c.Payload); err != nil {
		return nil, fmt.Errorf("%w: bad payload", ErrMalformedFrame)
	}
	if c.Payload == nil {
		c.Payload = map[string]any{}
	}
	return &c, nil
}

// Result marshals a [3, uniqueId, payload] frame.
func Result(uniqueId string, payload any) []byte {
	if payload == nil {
		payload = map[string]any{}
	}
	b, _ := json.Marshal([]any{MessageCallResult, uniqueId, payload})
	return b
}

// Error marshals a [4, uniqueId, code, description, details] frame.
func Error(uniqueId, code, description string, details any) []byte {
	if details == nil {
		details = map[string]any{}
	}
	b, _ := json.Marshal([]any{MessageCallError, uniqueId, code, description, details})
	return b
}
