package pipeline

import (
	"errors"
	"fmt"

	"github.com/sap-gg/azrelay/internal/checksum"
)

// State is a step of the acquisition and publish pipeline.
type State int

const (
	ResolvingDefinition State = iota
	ResolvingBuild
	ResolvingArtifacts
	Downloading
	Unpacking
	VerifyingPair
	Publishing
	Done
	Failed
)

var stateNames = map[State]string{
	ResolvingDefinition: "ResolvingDefinition",
	ResolvingBuild:      "ResolvingBuild",
	ResolvingArtifacts:  "ResolvingArtifacts",
	Downloading:         "Downloading",
	Unpacking:           "Unpacking",
	VerifyingPair:       "VerifyingPair",
	Publishing:          "Publishing",
	Done:                "Done",
	Failed:              "Failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// StageError is returned when a stage fails. The pipeline is then Failed.
type StageError struct {
	State State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitMismatch = 2
)

// ExitCode maps a run result onto the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var mismatch *checksum.MismatchError
	if errors.As(err, &mismatch) {
		return ExitMismatch
	}
	return ExitFailure
}
