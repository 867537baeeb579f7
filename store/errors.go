package store

import (
	"errors"

	orchestrator "github.com/getpup/metal-orchestrator"
)

var (
	// ErrTaskNotFound indicates the task does not exist.
	ErrTaskNotFound = orchestrator.ErrTaskNotFound

	// ErrTaskExists indicates a task with the same ID was already posted.
	ErrTaskExists = errors.New("task already exists")

	// ErrBootActionNotFound indicates the boot action or boot action context does not exist.
	ErrBootActionNotFound = errors.New("boot action not found")
)
