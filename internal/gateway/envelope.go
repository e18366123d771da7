package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope is the generic unit of the wire protocol.
// Sequence and Type are only set on inbound dispatch events.
type Envelope[T any] struct {
	Op       Opcode  `json:"op"`
	Data     T       `json:"d"`
	Sequence *uint64 `json:"s"`
	Type     *string `json:"t"`
}

// Frame is an envelope whose payload has not been decoded yet.
type Frame = Envelope[json.RawMessage]

// CodecError reports a failure to serialize or deserialize an envelope.
type CodecError struct {
	Op  string // "encode" or "decode"
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// Encode serializes an envelope to a text frame.
func Encode[T any](e Envelope[T]) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, &CodecError{Op: "encode", Err: err}
	}
	return data, nil
}

// Decode deserializes a text frame into an envelope with a typed payload.
func Decode[T any](data []byte) (Envelope[T], error) {
	var e Envelope[T]
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope[T]{}, &CodecError{Op: "decode", Err: err}
	}
	return e, nil
}

// DecodeFrame decodes the envelope header and keeps the payload raw.
func DecodeFrame(data []byte) (Frame, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Frame{}, &CodecError{Op: "decode", Err: errors.New("frame is not a json object")}
	}
	return Decode[json.RawMessage](trimmed)
}

// DecodePayload decodes the raw payload of a frame.
func DecodePayload[T any](f Frame) (T, error) {
	var v T
	if len(f.Data) == 0 {
		return v, &CodecError{Op: "decode", Err: fmt.Errorf("%s frame has no payload", f.Op)}
	}
	if err := json.Unmarshal(f.Data, &v); err != nil {
		return v, &CodecError{Op: "decode", Err: fmt.Errorf("%s payload: %w", f.Op, err)}
	}
	return v, nil
}

// EventName returns the dispatch event name, or "" for non-dispatch frames.
func (e Envelope[T]) EventName() string {
	if e.Type == nil {
		return ""
	}
	return *e.Type
}
