package giftwrap

import (
	"errors"
	"fmt"
)

var ErrUnwrapFailed = errors.New("giftwrap: unwrap failed")

// Reason tells an unwrap failure that is routine traffic noise (the envelope is simply
// not decryptable with our key) apart from one that decrypted but is broken.
type Reason int

const (
	ReasonAuthentication Reason = iota + 1
	ReasonStructural
)

func (r Reason) String() string {
	switch r {
	case ReasonAuthentication:
		return "authentication"
	case ReasonStructural:
		return "structural"
	}
	return "unknown"
}

type UnwrapError struct {
	Reason Reason
	Layer  string
	Err    error
}

func (e *UnwrapError) Error() string {
	return fmt.Sprintf("giftwrap: unwrap %s failed (%s): %v", e.Layer, e.Reason, e.Err)
}

func (e *UnwrapError) Unwrap() error { return e.Err }

func (e *UnwrapError) Is(target error) bool { return target == ErrUnwrapFailed }

func authFailure(layer string, err error) error {
	return &UnwrapError{Reason: ReasonAuthentication, Layer: layer, Err: err}
}

func structural(layer string, err error) error {
	return &UnwrapError{Reason: ReasonStructural, Layer: layer, Err: err}
}

// IsAuthentication reports whether err is an unwrap failure caused by a key mismatch.
func IsAuthentication(err error) bool {
	var ue *UnwrapError
	return errors.As(err, &ue) && ue.Reason == ReasonAuthentication
}
