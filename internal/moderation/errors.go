package moderation

import "errors"

// InputError is a failure caused by the request content. The HTTP layer
// answers it with a 4xx; every other error is internal.
type InputError struct {
	Message string
	Err     error
}

func (e *InputError) Error() string { return e.Message }

func (e *InputError) Unwrap() error { return e.Err }

var (
	ErrNoImages      = &InputError{Message: "No images found in the request"}
	ErrNoFiles       = &InputError{Message: "No files selected"}
	ErrTooManyImages = &InputError{Message: "Too many images in the request"}
)

// IsInputError reports whether err is, or wraps, an *InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}
