// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package color decorates diagnostic output with ANSI escape codes.
// Colour is off when NO_COLOR is set, on when FORCE_COLOR is set, and otherwise on only
// when stderr, where the shell's log records go, is a terminal.
// Status lines the shell prints for jobs are never coloured.
package color
