// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package ctxlog provides a context-aware logger that can be used to log messages.
// It uses the slog package for structured logging and supports different log levels.
//
// The default is a pretty console handler to format the log messages in a human-readable way.
// The level is read from <EXECUTABLE>_LOG_LEVEL, e.g. TSH_LOG_LEVEL, and defaults to WARN
// so that diagnostics never interleave with the shell's own output unless asked for.
package ctxlog
