package causal

import (
	"errors"
	"fmt"

	"github.com/hupe1980/recallgraph/store"
)

// ErrInsufficientData is returned when an estimate is requested over too few
// observations or episodes to be meaningful.
var ErrInsufficientData = errors.New("insufficient data for estimate")

// ErrExperimentNotRunning is returned when an observation is recorded against
// an experiment that is not in running status.
type ErrExperimentNotRunning struct {
	ID     string
	Status store.ExperimentStatus
}

func (e *ErrExperimentNotRunning) Error() string {
	return fmt.Sprintf("experiment %s is not running (status %s)", e.ID, e.Status)
}
