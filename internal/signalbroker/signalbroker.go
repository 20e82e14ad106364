// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package signalbroker subscribes the shell to the OS signals it reacts to and sorts
// them into a closed set of kinds.
// By default it listens for SIGCHLD, SIGINT, SIGTSTP and SIGQUIT.
//
// It also contains a watch loop that hands every received signal to a handler until
// the context is cancelled, the channel is closed, or the handler fails.
package signalbroker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/matt-FFFFFF/tsh/internal/ctxlog"
)

// channelSize lets a burst of distinct signals queue while a handler runs.
// Repeated SIGCHLDs may still be coalesced, so child-status handlers must drain.
const channelSize = 16

var shellSignals = []os.Signal{
	syscall.SIGCHLD,
	syscall.SIGINT,
	syscall.SIGTSTP,
	syscall.SIGQUIT,
}

// Kind is the closed set of signal kinds the shell handles.
type Kind int

const (
	// KindUnknown is any signal the shell does not handle.
	KindUnknown Kind = iota
	// KindChildStatus means one or more children exited, were killed or stopped.
	KindChildStatus
	// KindInterrupt is the interrupt key (ctrl-c).
	KindInterrupt
	// KindStop is the stop key (ctrl-z).
	KindStop
	// KindQuit asks the shell to terminate.
	KindQuit
)

func (k Kind) String() string {
	switch k {
	case KindChildStatus:
		return "child-status"
	case KindInterrupt:
		return "interrupt"
	case KindStop:
		return "stop"
	case KindQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// KindOf classifies sig.
func KindOf(sig os.Signal) Kind {
	switch sig {
	case syscall.SIGCHLD:
		return KindChildStatus
	case syscall.SIGINT:
		return KindInterrupt
	case syscall.SIGTSTP:
		return KindStop
	case syscall.SIGQUIT:
		return KindQuit
	default:
		return KindUnknown
	}
}

// New creates a channel that receives the given signals, or the shell's signals if none
// are given. Delivery of those signals no longer triggers their default action.
func New(ctx context.Context, sigs ...os.Signal) chan os.Signal {
	ch := make(chan os.Signal, channelSize)

	if len(sigs) == 0 {
		sigs = shellSignals
	}

	ctxlog.Debug(ctx, "signalbroker", "detail", "creating signal broker", "signals", sigs)
	signal.Notify(ch, sigs...)

	return ch
}

// Stop stops delivery to ch and restores default handling of its signals.
func Stop(ch chan os.Signal) {
	signal.Stop(ch)
}
