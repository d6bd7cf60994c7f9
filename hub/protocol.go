package hub

import (
	"fmt"

	"github.com/goccy/go-json"
)

// MessageType discriminates hub frames. Every frame is one JSON text message.
type MessageType string

const (
	// MessageInvocation is a client call. An empty InvocationID means fire-and-forget.
	MessageInvocation MessageType = "invocation"

	// MessageCompletion answers an invocation with Result or Error.
	MessageCompletion MessageType = "completion"

	// MessageEvent is a server push; Target is the event name.
	MessageEvent MessageType = "event"

	// MessagePing is an application-level keep-alive.
	MessagePing MessageType = "ping"
)

// Message is the hub wire frame
type Message struct {
	Type         MessageType       `json:"type"`
	InvocationID string            `json:"invocationId,omitempty"`
	Target       string            `json:"target,omitempty"`
	Arguments    []json.RawMessage `json:"arguments,omitempty"`
	Result       json.RawMessage   `json:"result,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// NewInvocation builds an invocation frame, encoding each argument separately
func NewInvocation(invocationID, target string, args ...any) (Message, error) {
	encoded, err := EncodeArguments(args...)
	if err != nil {
		return Message{}, fmt.Errorf("invocation %s: %w", target, err)
	}
	return Message{
		Type:         MessageInvocation,
		InvocationID: invocationID,
		Target:       target,
		Arguments:    encoded,
	}, nil
}

// NewEvent builds a server push frame
func NewEvent(target string, args ...any) (Message, error) {
	encoded, err := EncodeArguments(args...)
	if err != nil {
		return Message{}, fmt.Errorf("event %s: %w", target, err)
	}
	return Message{Type: MessageEvent, Target: target, Arguments: encoded}, nil
}

func EncodeArguments(args ...any) ([]json.RawMessage, error) {
	encoded := make([]json.RawMessage, 0, len(args))
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		encoded = append(encoded, raw)
	}
	return encoded, nil
}
