// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package jobs provides the shell's job table: a fixed capacity registry that maps a
// pipeline's process group leader to a small job ID, a state and the command line that
// started it.
//
// The table is shared between the main control flow and the signal reconciler.
// Every mutation and every multi-step read used for a control decision runs inside
// a transaction (see Table.Txn), which holds the table lock for its duration and wakes
// any goroutine blocked in Table.WaitForeground when it ends.
//
// Job state transitions are:
//
//	Foreground -> Stopped    : stop key
//	Stopped    -> Foreground : fg
//	Stopped    -> Background : bg
//	Background -> Foreground : fg
//
// At most one job is in the Foreground state at any time.
package jobs
