package toolexecutor

import "errors"

var (
	// ErrToolNotFound means the model named a tool the registry does not have
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidInput means the tool input failed schema validation
	ErrInvalidInput = errors.New("invalid tool input")
)
