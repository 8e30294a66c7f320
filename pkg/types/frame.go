package types

import "encoding/json"

// ParseFrame decodes the frame header and keeps the raw bytes for Decode.
func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, WrapError(Validation, "malformed frame", ErrMalformedFrame)
	}
	if f.Type == "" {
		return nil, WrapError(Validation, "frame type is required", ErrMalformedFrame)
	}
	if len(f.RequestID) > 64 {
		return nil, NewError(Validation, "request_id too long")
	}
	f.Raw = json.RawMessage(data)
	return &f, nil
}

// Decode unmarshals the frame into payload and validates its tags.
func (f *Frame) Decode(payload interface{}) error {
	if err := json.Unmarshal(f.Raw, payload); err != nil {
		return WrapError(Validation, "malformed "+f.Type+" payload", ErrMalformedFrame)
	}
	return ValidatePayload(payload)
}

// NewFrame builds an inbound frame from a payload, for clients and tests.
func NewFrame(frameType, requestID string, payload interface{}) (*Frame, error) {
	fields := map[string]interface{}{}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, err
		}
	}
	fields["type"] = frameType
	if requestID != "" {
		fields["request_id"] = requestID
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return &Frame{Type: frameType, RequestID: requestID, Raw: raw}, nil
}
