package encryption

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyPlaintext       = errors.New("encryption: empty plaintext")
	ErrPlaintextTooLarge    = errors.New("encryption: plaintext too large")
	ErrMalformedPayload     = errors.New("encryption: malformed payload")
	ErrUnsupportedVersion   = fmt.Errorf("%w: unsupported version", ErrMalformedPayload)
	ErrAuthenticationFailed = errors.New("encryption: authentication failed")
)
