// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package jobs

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a transition is not allowed from the current state.
var ErrInvalidTransition = errors.New("invalid job state transition")

// State is the state of a live job. The zero value marks an empty table slot.
type State int

const (
	// Undefined is the state of an empty slot.
	Undefined State = iota
	// Foreground jobs hold the terminal and block the prompt.
	Foreground
	// Background jobs run without blocking the prompt.
	Background
	// Stopped jobs have been suspended by a stop signal.
	Stopped
)

// String returns the label used by the jobs listing.
func (s State) String() string {
	switch s {
	case Foreground:
		return "Foreground"
	case Background:
		return "Running"
	case Stopped:
		return "Stopped"
	default:
		return "Undefined"
	}
}

// Transition is an event that moves a job between states.
type Transition int

const (
	// Stop is applied when a member of the job was stopped by a signal.
	Stop Transition = iota
	// ResumeForeground is applied by the fg builtin.
	ResumeForeground
	// ResumeBackground is applied by the bg builtin.
	ResumeBackground
)

func (t Transition) String() string {
	switch t {
	case Stop:
		return "stop"
	case ResumeForeground:
		return "fg"
	case ResumeBackground:
		return "bg"
	default:
		return fmt.Sprintf("transition(%d)", int(t))
	}
}

// Next returns the state reached by applying t to a job in state from.
// A job that is already in the target state stays there, so bg on a running
// background job is a no-op rather than an error.
func Next(from State, t Transition) (State, error) {
	switch t {
	case Stop:
		if from != Undefined {
			return Stopped, nil
		}
	case ResumeForeground:
		if from != Undefined {
			return Foreground, nil
		}
	case ResumeBackground:
		if from == Stopped || from == Background {
			return Background, nil
		}
	}

	return from, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, t, from)
}
