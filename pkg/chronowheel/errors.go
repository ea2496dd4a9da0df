package chronowheel

import "errors"

// Validation errors, returned synchronously to callers.
var (
	ErrDuplicateID     = errors.New("chronowheel: task id already registered")
	ErrUnknownID       = errors.New("chronowheel: unknown task or instance id")
	ErrInvalidSchedule = errors.New("chronowheel: cron schedule yields no future instant")
	ErrReservedID      = errors.New("chronowheel: task id 0 is reserved")
	ErrStopped         = errors.New("chronowheel: scheduler is stopped")
	ErrAlreadyTerminal = errors.New("chronowheel: instance already reached a terminal state")
	ErrReporterTaken   = errors.New("chronowheel: status reporter already taken")
	ErrStatusDisabled  = errors.New("chronowheel: status reporting was not enabled at build time")
)
