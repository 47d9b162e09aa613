package common

import "errors"

// ErrNotFound is returned when a merchant or invoice does not exist.
var ErrNotFound = errors.New("not found")
