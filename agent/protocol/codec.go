package protocol

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrDecode matches every error returned by DecodeCommand and DecodeResponse.
var ErrDecode = errors.New("invalid payload")

// DecodeError reports bytes that are truncated, malformed, or carry an unknown variant tag.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("invalid payload: %s", e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// envelope is the on-the-wire shape of both commands and responses: [tag, body].
type envelope struct {
	_    struct{} `cbor:",toarray"`
	Tag  uint8
	Body cbor.RawMessage
}

var cborNull = cbor.RawMessage{0xf6}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Core Deterministic Encoding: the same value always produces the same bytes.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeCommand encodes cmd, including its variant tag.
func EncodeCommand(cmd Command) ([]byte, error) {
	if cmd == nil {
		return nil, errors.New("encoding nil command")
	}
	body, err := encMode.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encoding command body: %w", err)
	}
	return encMode.Marshal(envelope{Tag: cmd.commandTag(), Body: body})
}

// DecodeCommand decodes bytes produced by EncodeCommand.
func DecodeCommand(b []byte) (Command, error) {
	var env envelope
	if err := decMode.Unmarshal(b, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}

	var (
		cmd Command
		err error
	)
	switch env.Tag {
	case tagExec:
		var c Exec
		err = decMode.Unmarshal(env.Body, &c)
		cmd = c
	case tagStream:
		var c Stream
		err = decMode.Unmarshal(env.Body, &c)
		cmd = c
	case tagPing:
		var c Ping
		err = decMode.Unmarshal(env.Body, &c)
		cmd = c
	case tagDirectTap:
		var c DirectTap
		err = decMode.Unmarshal(env.Body, &c)
		cmd = c
	case tagDirectSwipe:
		var c DirectSwipe
		err = decMode.Unmarshal(env.Body, &c)
		cmd = c
	default:
		return nil, &DecodeError{Err: fmt.Errorf("unknown command tag %d", env.Tag)}
	}
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return cmd, nil
}

// EncodeResponse encodes resp, including its variant tag.
func EncodeResponse(resp Response) ([]byte, error) {
	env := envelope{Tag: uint8(resp.Kind), Body: cborNull}
	switch resp.Kind {
	case KindSuccess, KindError, KindStreamChunk:
		body, err := encMode.Marshal(resp.Text)
		if err != nil {
			return nil, fmt.Errorf("encoding response body: %w", err)
		}
		env.Body = body
	case KindStreamEnd:
	default:
		return nil, fmt.Errorf("encoding response: unknown kind %d", resp.Kind)
	}
	return encMode.Marshal(env)
}

// DecodeResponse decodes bytes produced by EncodeResponse.
func DecodeResponse(b []byte) (Response, error) {
	var env envelope
	if err := decMode.Unmarshal(b, &env); err != nil {
		return Response{}, &DecodeError{Err: err}
	}

	kind := ResponseKind(env.Tag)
	switch kind {
	case KindSuccess, KindError, KindStreamChunk:
		var text string
		if err := decMode.Unmarshal(env.Body, &text); err != nil {
			return Response{}, &DecodeError{Err: err}
		}
		return Response{Kind: kind, Text: text}, nil
	case KindStreamEnd:
		return StreamEnd(), nil
	default:
		return Response{}, &DecodeError{Err: fmt.Errorf("unknown response tag %d", env.Tag)}
	}
}
