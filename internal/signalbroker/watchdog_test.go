// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package signalbroker

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/matt-FFFFFF/tsh/internal/ctxlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want Kind
	}{
		{sig: syscall.SIGCHLD, want: KindChildStatus},
		{sig: syscall.SIGINT, want: KindInterrupt},
		{sig: os.Interrupt, want: KindInterrupt},
		{sig: syscall.SIGTSTP, want: KindStop},
		{sig: syscall.SIGQUIT, want: KindQuit},
		{sig: syscall.SIGUSR1, want: KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.sig.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.sig))
		})
	}
}

func TestWatch_DeliversInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := ctxlog.New(context.Background(), ctxlog.DefaultLogger)
	sigCh := make(chan os.Signal, 3)
	sigCh <- syscall.SIGCHLD
	sigCh <- syscall.SIGINT
	sigCh <- syscall.SIGCHLD
	close(sigCh)

	var got []Kind

	err := Watch(ctx, sigCh, func(_ context.Context, sig os.Signal) error {
		got = append(got, KindOf(sig))
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []Kind{KindChildStatus, KindInterrupt, KindChildStatus}, got)
}

func TestWatch_HandlerErrorStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	boom := errors.New("boom")
	sigCh := make(chan os.Signal, 2)
	sigCh <- syscall.SIGQUIT
	sigCh <- syscall.SIGCHLD

	calls := 0
	err := Watch(context.Background(), sigCh, func(context.Context, os.Signal) error {
		calls++
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Len(t, sigCh, 1, "signals after the failure are left unread")
}

func TestWatch_ContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal)
	done := make(chan error, 1)

	go func() {
		done <- Watch(ctx, sigCh, func(context.Context, os.Signal) error { return nil })
	}()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancellation")
	}
}

func TestNew_ReceivesSignal(t *testing.T) {
	ch := New(context.Background(), syscall.SIGUSR1)
	defer Stop(ch)

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))

	select {
	case sig := <-ch:
		assert.Equal(t, syscall.SIGUSR1, sig)
	case <-time.After(time.Second):
		t.Fatal("signal not delivered")
	}
}
