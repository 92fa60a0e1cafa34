package broker

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxPayloadSize caps encoded job payloads and results (16 MiB).
// Report trees carry dropped binaries, so payloads get large but must
// not grow without bound.
const MaxPayloadSize = 16 * 1024 * 1024

// CodecErrorKind classifies payload codec errors.
type CodecErrorKind int

const (
	// CodecErrorTooLarge indicates a payload exceeding MaxPayloadSize.
	CodecErrorTooLarge CodecErrorKind = iota
	// CodecErrorDecode indicates a msgpack decoding error.
	CodecErrorDecode
)

// CodecError represents a payload encoding or decoding error.
type CodecError struct {
	Kind CodecErrorKind
	Msg  string
	Err  error
}

func (e *CodecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// EncodePayload marshals a job payload or result, enforcing the size
// limit.
func EncodePayload(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, &CodecError{
			Kind: CodecErrorDecode,
			Msg:  "failed to encode payload",
			Err:  err,
		}
	}
	if len(data) > MaxPayloadSize {
		return nil, &CodecError{
			Kind: CodecErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(data), MaxPayloadSize),
		}
	}
	return data, nil
}

// DecodePayload unmarshals a job payload or result into v.
func DecodePayload(data []byte, v any) error {
	if len(data) > MaxPayloadSize {
		return &CodecError{
			Kind: CodecErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(data), MaxPayloadSize),
		}
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return &CodecError{
			Kind: CodecErrorDecode,
			Msg:  "failed to decode payload",
			Err:  err,
		}
	}
	return nil
}
