package idempotency

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrBlankKey reports an idempotency header that was sent but contains
// only whitespace. Adapters convert it into a 400 naming the header.
var ErrBlankKey = errors.New("idempotency key is blank")

// ErrExecutionAborted is what followers observe when the leader for their
// key terminated (panicked or was torn down) before producing a response.
var ErrExecutionAborted = errors.New("idempotent execution aborted before completion")

// KeyFormatError reports a key rejected by the configured key validator.
type KeyFormatError struct {
	Key    string
	Reason string
}

func (e *KeyFormatError) Error() string {
	return fmt.Sprintf("invalid idempotency key %q: %s", e.Key, e.Reason)
}

// MalformedBodyError wraps a request-body parse or schema failure so that
// adapters render it as a 400 instead of a server error. The same wrapped
// error resolves the flight, so followers render the same 400.
type MalformedBodyError struct {
	Err error
}

func (e *MalformedBodyError) Error() string {
	return fmt.Sprintf("malformed request body: %v", e.Err)
}

func (e *MalformedBodyError) Unwrap() error {
	return e.Err
}

// IsMalformedBody reports whether err stems from an unparseable or invalid
// request body: a MalformedBodyError, or a JSON decode error surfaced by
// the handler itself.
func IsMalformedBody(err error) bool {
	var malformed *MalformedBodyError
	if errors.As(err, &malformed) {
		return true
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return true
	}
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &typeErr)
}

// Error codes used by problem-detail renderings.
const (
	ErrCodeBlankKey      = "blank_idempotency_key"
	ErrCodeInvalidKey    = "invalid_idempotency_key"
	ErrCodeMalformedBody = "malformed_request_body"
)
