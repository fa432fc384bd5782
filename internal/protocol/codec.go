package protocol

import (
	"encoding/json"
	"fmt"
)

type baseFrame struct {
	Type Kind `json:"type"`
}

// Encode serializes a frame for the wire.
func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// Decode parses one wire frame into its typed form and validates required
// fields. Unknown or malformed frames return an error wrapping
// ErrMalformedFrame.
func Decode(data []byte) (Frame, error) {
	var base baseFrame
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var f interface {
		Frame
		Validate() error
	}

	switch base.Type {
	case KindSessionStart:
		f = &SessionStartFrame{}
	case KindSessionStarted:
		f = &SessionStartedFrame{}
	case KindMessageSend:
		f = &MessageSendFrame{}
	case KindMessageDelta:
		f = &MessageDeltaFrame{}
	case KindMessageComplete:
		f = &MessageCompleteFrame{}
	case KindCitationList:
		f = &CitationListFrame{}
	case KindError:
		f = &ErrorFrame{}
	case KindPing:
		return NewPing(), nil
	case KindPong:
		return NewPong(), nil
	default:
		return nil, fmt.Errorf("%w: unknown frame type %q", ErrMalformedFrame, base.Type)
	}

	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}
