package scheduler

import "errors"

// ErrInvalidConfig wraps every trigger and working-hours validation failure
var ErrInvalidConfig = errors.New("scheduler: invalid configuration")
