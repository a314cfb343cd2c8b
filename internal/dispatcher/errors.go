package dispatcher

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/steward/internal/fencing"
)

var (
	ErrStaleLeader  = errors.New("stale leader")
	ErrNotRunning   = errors.New("dispatcher is not running")
	ErrDuplicateJob = errors.New("job already submitted")
	ErrJobNotFound  = errors.New("job not found")
	ErrJobFinished  = errors.New("job already reached a terminal status")
)

// StaleLeaderError carries the token the caller used and the one this
// dispatcher serves.
type StaleLeaderError struct {
	Got     fencing.Token
	Current fencing.Token
}

func (e *StaleLeaderError) Error() string {
	return fmt.Sprintf("stale leader: fencing token %q does not match current %q", e.Got, e.Current)
}

func (e *StaleLeaderError) Is(target error) bool { return target == ErrStaleLeader }
