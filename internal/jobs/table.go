// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
)

// DefaultCapacity is the number of jobs the table can hold unless configured otherwise.
const DefaultCapacity = 16

var (
	// ErrNoSuchJob is returned when no live job matches the requested PID or job ID.
	ErrNoSuchJob = errors.New("no such job")
	// ErrForegroundTaken is returned when a second job would enter the Foreground state.
	ErrForegroundTaken = errors.New("another job is already in the foreground")
)

// Job is one pipeline invocation.
type Job struct {
	PID     int    // Process group leader, the signal target is -PID.
	ID      int    // Job ID in [1, capacity], only meaningful while PID != 0.
	State   State  // Current state.
	Cmdline string // Command line as typed, without the trailing newline.
	members []int  // PIDs of every started stage that has not been reaped yet.
}

// Members returns a copy of the job's unreaped stage PIDs, leader first.
func (j Job) Members() []int {
	return slices.Clone(j.members)
}

func (j *Job) clear() {
	*j = Job{}
}

// Table is the fixed capacity job registry.
type Table struct {
	mu    sync.Mutex
	cond  *sync.Cond
	slots []Job
	out   io.Writer // Capacity warnings.
	trace io.Writer // Verbose insert trace, nil disables it.
}

// Option configures a Table.
type Option func(t *Table)

// WithOutput sets the writer that receives user facing warnings.
func WithOutput(w io.Writer) Option {
	return func(t *Table) {
		t.out = w
	}
}

// WithTrace enables the "Added job" trace written on every insert.
func WithTrace(w io.Writer) Option {
	return func(t *Table) {
		t.trace = w
	}
}

// New creates an empty table with room for capacity jobs.
// A capacity below one is replaced with DefaultCapacity.
func New(capacity int, opts ...Option) *Table {
	if capacity < 1 {
		capacity = DefaultCapacity
	}

	t := &Table{
		slots: make([]Job, capacity),
		out:   io.Discard,
	}
	t.cond = sync.NewCond(&t.mu)

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Capacity returns the maximum number of live jobs.
func (t *Table) Capacity() int {
	return len(t.slots)
}

// Txn runs fn with the table locked. Waiters in WaitForeground are woken when fn returns.
// fn must not call Table methods, only methods of the Tx it is given.
func (t *Table) Txn(fn func(tx *Tx)) {
	t.mu.Lock()
	defer func() {
		t.cond.Broadcast()
		t.mu.Unlock()
	}()

	fn(&Tx{t: t})
}

// Add inserts a job, see Tx.Add.
func (t *Table) Add(pid int, state State, cmdline string) (ok bool) {
	t.Txn(func(tx *Tx) { ok = tx.Add(pid, state, cmdline) })
	return ok
}

// Remove deletes the job led by pid, see Tx.Remove.
func (t *Table) Remove(pid int) (ok bool) {
	t.Txn(func(tx *Tx) { ok = tx.Remove(pid) })
	return ok
}

// FindByPID returns a copy of the job led by pid.
func (t *Table) FindByPID(pid int) (job Job, ok bool) {
	t.Txn(func(tx *Tx) { job, ok = tx.FindByPID(pid) })
	return job, ok
}

// FindByJobID returns a copy of the job with the given ID.
func (t *Table) FindByJobID(id int) (job Job, ok bool) {
	t.Txn(func(tx *Tx) { job, ok = tx.FindByJobID(id) })
	return job, ok
}

// ForegroundPID returns the leader PID of the foreground job, or 0.
func (t *Table) ForegroundPID() (pid int) {
	t.Txn(func(tx *Tx) { pid = tx.ForegroundPID() })
	return pid
}

// JobIDForPID returns the job ID of the job led by pid, or 0.
func (t *Table) JobIDForPID(pid int) (id int) {
	t.Txn(func(tx *Tx) { id = tx.JobIDForPID(pid) })
	return id
}

// Apply moves the job led by pid through the transition tr.
func (t *Table) Apply(pid int, tr Transition) (job Job, err error) {
	t.Txn(func(tx *Tx) { job, err = tx.Apply(pid, tr) })
	return job, err
}

// Jobs returns a snapshot of the live jobs in slot order.
func (t *Table) Jobs() []Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	live := make([]Job, 0, len(t.slots))

	for _, j := range t.slots {
		if j.PID != 0 {
			j.members = slices.Clone(j.members)
			live = append(live, j)
		}
	}

	return live
}

// List writes one line per live job: "[jobid] (pid) <Running|Foreground|Stopped> cmdline".
func (t *Table) List(w io.Writer) error {
	for _, j := range t.Jobs() {
		if _, err := fmt.Fprintf(w, "[%d] (%d) %s %s\n", j.ID, j.PID, j.State, j.Cmdline); err != nil {
			return err
		}
	}

	return nil
}

// WaitForeground blocks until the job that pid belongs to is gone or no longer in the
// Foreground state. pid may be the leader or any other unreaped stage of the job.
// It returns early with the context error if ctx is cancelled.
func (t *Table) WaitForeground(ctx context.Context, pid int) error {
	stop := context.AfterFunc(ctx, func() {
		t.mu.Lock()
		t.cond.Broadcast()
		t.mu.Unlock()
	})
	defer stop()

	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		j := t.memberOf(pid)
		if j == nil || j.State != Foreground {
			return nil
		}

		t.cond.Wait()
	}
}

func (t *Table) byPID(pid int) *Job {
	if pid < 1 {
		return nil
	}

	for i := range t.slots {
		if t.slots[i].PID == pid {
			return &t.slots[i]
		}
	}

	return nil
}

func (t *Table) byJobID(id int) *Job {
	if id < 1 {
		return nil
	}

	for i := range t.slots {
		if t.slots[i].PID != 0 && t.slots[i].ID == id {
			return &t.slots[i]
		}
	}

	return nil
}

func (t *Table) memberOf(pid int) *Job {
	if pid < 1 {
		return nil
	}

	for i := range t.slots {
		if t.slots[i].PID != 0 && slices.Contains(t.slots[i].members, pid) {
			return &t.slots[i]
		}
	}

	return nil
}

// freeJobID returns the smallest unused job ID, or 0 if every ID is taken.
func (t *Table) freeJobID() int {
	taken := make([]bool, len(t.slots)+1)

	for _, j := range t.slots {
		if j.PID != 0 {
			taken[j.ID] = true
		}
	}

	for id := 1; id <= len(t.slots); id++ {
		if !taken[id] {
			return id
		}
	}

	return 0
}

// Tx gives lock-free access to a Table inside Table.Txn.
type Tx struct {
	t *Table
}

// Add registers a new job led by pid with the smallest free job ID.
// It returns false if pid is below one, if a second foreground job would be created,
// or if the table is full, in which case a warning is written to the table's output.
func (tx *Tx) Add(pid int, state State, cmdline string) bool {
	t := tx.t
	if pid < 1 || state == Undefined {
		return false
	}

	if state == Foreground && tx.ForegroundPID() != 0 {
		return false
	}

	id := t.freeJobID()
	if id == 0 {
		fmt.Fprintln(t.out, "Tried to create too many jobs") //nolint:errcheck
		return false
	}

	for i := range t.slots {
		if t.slots[i].PID != 0 {
			continue
		}

		t.slots[i] = Job{
			PID:     pid,
			ID:      id,
			State:   state,
			Cmdline: cmdline,
			members: []int{pid},
		}

		if t.trace != nil {
			fmt.Fprintf(t.trace, "Added job [%d] %d %s\n", id, pid, cmdline) //nolint:errcheck
		}

		return true
	}

	return false
}

// AddMember records pid as a further stage of the job led by leader.
func (tx *Tx) AddMember(leader, pid int) bool {
	j := tx.t.byPID(leader)
	if j == nil || pid < 1 || slices.Contains(j.members, pid) {
		return false
	}

	j.members = append(j.members, pid)

	return true
}

// Detach drops a reaped pid from its job and reports the job as it was before the call
// and how many members remain. ok is false if pid belongs to no job, which is also the
// result of detaching the same pid twice.
func (tx *Tx) Detach(pid int) (job Job, remaining int, ok bool) {
	j := tx.t.memberOf(pid)
	if j == nil {
		return Job{}, 0, false
	}

	job = *j
	job.members = slices.Clone(j.members)
	j.members = slices.DeleteFunc(j.members, func(m int) bool { return m == pid })

	return job, len(j.members), true
}

// Remove clears the slot of the job led by pid.
func (tx *Tx) Remove(pid int) bool {
	j := tx.t.byPID(pid)
	if j == nil {
		return false
	}

	j.clear()

	return true
}

// FindByPID returns a copy of the job led by pid.
func (tx *Tx) FindByPID(pid int) (Job, bool) {
	j := tx.t.byPID(pid)
	if j == nil {
		return Job{}, false
	}

	return *j, true
}

// FindByJobID returns a copy of the job with the given ID.
func (tx *Tx) FindByJobID(id int) (Job, bool) {
	j := tx.t.byJobID(id)
	if j == nil {
		return Job{}, false
	}

	return *j, true
}

// FindByMember returns a copy of the job that pid is an unreaped stage of.
func (tx *Tx) FindByMember(pid int) (Job, bool) {
	j := tx.t.memberOf(pid)
	if j == nil {
		return Job{}, false
	}

	return *j, true
}

// ForegroundPID returns the leader PID of the foreground job, or 0.
func (tx *Tx) ForegroundPID() int {
	for _, j := range tx.t.slots {
		if j.PID != 0 && j.State == Foreground {
			return j.PID
		}
	}

	return 0
}

// JobIDForPID returns the job ID of the job led by pid, or 0.
func (tx *Tx) JobIDForPID(pid int) int {
	if j := tx.t.byPID(pid); j != nil {
		return j.ID
	}

	return 0
}

// Apply moves the job led by pid through tr and returns the updated job.
func (tx *Tx) Apply(pid int, tr Transition) (Job, error) {
	j := tx.t.byPID(pid)
	if j == nil {
		return Job{}, fmt.Errorf("%w: pid %d", ErrNoSuchJob, pid)
	}

	next, err := Next(j.State, tr)
	if err != nil {
		return *j, err
	}

	if next == Foreground {
		if fg := tx.ForegroundPID(); fg != 0 && fg != pid {
			return *j, fmt.Errorf("%w: pid %d", ErrForegroundTaken, fg)
		}
	}

	j.State = next

	return *j, nil
}
