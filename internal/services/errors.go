package services

import "errors"

// ErrInvalidField marks a request rejected for a missing or malformed field.
var ErrInvalidField = errors.New("invalid field")
