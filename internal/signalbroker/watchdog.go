// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package signalbroker

import (
	"context"
	"os"

	"github.com/matt-FFFFFF/tsh/internal/ctxlog"
)

// Handler reacts to one received signal. A non-nil error ends the watch.
type Handler func(ctx context.Context, sig os.Signal) error

// Watch passes every signal from sigCh to handle, one at a time.
// It returns nil when ctx is done or sigCh is closed, and the handler's error otherwise.
func Watch(ctx context.Context, sigCh <-chan os.Signal, handle Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-sigCh:
			if !ok {
				return nil
			}

			ctxlog.Debug(ctx, "watchdog", "detail", "received signal", "signal", sig.String(), "kind", KindOf(sig).String())

			if err := handle(ctx, sig); err != nil {
				ctxlog.Logger(ctx).Info("watchdog", "detail", "handler failed, stopping", "signal", sig.String(), "error", err)
				return err
			}
		}
	}
}
