package config

import (
	"errors"
)

// Configuration failure kinds. Callers match them with errors.Is to tell a
// rejected value apart from a source that could not be read.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)
