package services

import "errors"

// ErrInvalidBatch marks batches that can never succeed on replay; callers
// drop them instead of retrying.
var ErrInvalidBatch = errors.New("invalid batch")

func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidBatch)
}
