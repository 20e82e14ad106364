// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package pipeline turns a tokenized command line into the ordered stages of a pipeline.
// Each stage owns its argument vector and the files it redirects stdin and stdout to.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
)

// Tokens with special meaning when they appear as a whole argument.
const (
	PipeToken       = "|"
	InputToken      = "<"
	OutputToken     = ">"
	BackgroundToken = "&"
)

const outputFileMode = 0o644

var (
	// ErrEmptyStage is returned when a pipeline stage has no program to run.
	ErrEmptyStage = errors.New("missing command")
	// ErrMissingRedirectTarget is returned when < or > is not followed by a path.
	ErrMissingRedirectTarget = errors.New("missing redirection target")
	// ErrOpenRedirect is returned when a redirection target cannot be opened.
	ErrOpenRedirect = errors.New("open error")
	// ErrNotOSFile is returned when the filesystem hands back a file without an OS descriptor.
	ErrNotOSFile = errors.New("redirection target is not an operating system file")
)

// FsFactory returns the filesystem redirection targets are opened on.
var FsFactory = func() afero.Fs {
	return afero.NewOsFs()
}

// Stage is one command of a pipeline.
type Stage struct {
	Args   []string // Program name followed by its arguments.
	Stdin  *os.File // Input redirection, nil means the adjacent pipe or the shell's stdin.
	Stdout *os.File // Output redirection, nil means the adjacent pipe or the shell's stdout.
}

// Close releases the stage's redirection files.
func (s *Stage) Close() error {
	var err error

	for _, f := range []*os.File{s.Stdin, s.Stdout} {
		if f == nil {
			continue
		}

		if cerr := f.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) {
			err = multierror.Append(err, cerr)
		}
	}

	s.Stdin, s.Stdout = nil, nil

	return err
}

// Pipeline is the set of stages built from one command line.
type Pipeline struct {
	Stages     []*Stage
	Background bool // The line ended with &.
}

// Close releases every stage's redirection files.
func (p *Pipeline) Close() error {
	var err error

	for _, s := range p.Stages {
		if cerr := s.Close(); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}

	return err
}

// Pipes returns the number of pipes needed to connect the stages.
func (p *Pipeline) Pipes() int {
	if len(p.Stages) == 0 {
		return 0
	}

	return len(p.Stages) - 1
}

// SplitBackground strips a trailing & from argv. The & may be its own token or the
// suffix of the last argument. The returned slice never aliases argv's last element.
func SplitBackground(argv []string) ([]string, bool) {
	if len(argv) == 0 {
		return argv, false
	}

	last := argv[len(argv)-1]

	switch {
	case last == BackgroundToken:
		return argv[:len(argv)-1], true
	case strings.HasSuffix(last, BackgroundToken):
		out := make([]string, len(argv))
		copy(out, argv)
		out[len(out)-1] = strings.TrimSuffix(last, BackgroundToken)

		return out, true
	default:
		return argv, false
	}
}

// CountPipes returns the number of bare | tokens in argv.
func CountPipes(argv []string) int {
	n := 0

	for _, a := range argv {
		if a == PipeToken {
			n++
		}
	}

	return n
}

// Section extracts stage index of a pipeline with pipes | tokens from argv.
// Redirection tokens and their paths are consumed and opened on fs; they never appear
// in the stage's Args. When a stage names the same redirection twice the last one wins.
func Section(fs afero.Fs, argv []string, pipes, index int) (*Stage, error) {
	if index < 0 || index > pipes {
		return nil, fmt.Errorf("stage %d out of range [0, %d]", index, pipes)
	}

	st := &Stage{}
	segment := 0

	for i := 0; i < len(argv); i++ {
		tok := argv[i]

		if tok == PipeToken {
			if segment == index {
				break
			}

			segment++

			continue
		}

		if segment != index {
			continue
		}

		switch tok {
		case InputToken, OutputToken:
			if i+1 >= len(argv) || argv[i+1] == PipeToken {
				_ = st.Close()
				return nil, fmt.Errorf("%w after %s", ErrMissingRedirectTarget, tok)
			}

			i++

			if err := st.redirect(fs, tok, argv[i]); err != nil {
				_ = st.Close()
				return nil, err
			}
		default:
			st.Args = append(st.Args, tok)
		}
	}

	return st, nil
}

func (s *Stage) redirect(fs afero.Fs, tok, path string) error {
	var (
		f   afero.File
		err error
	)

	if tok == InputToken {
		f, err = fs.Open(path)
	} else {
		f, err = fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, outputFileMode)
	}

	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenRedirect, err)
	}

	osf, ok := f.(*os.File)
	if !ok {
		_ = f.Close()
		return fmt.Errorf("%w: %s", ErrNotOSFile, path)
	}

	target := &s.Stdout
	if tok == InputToken {
		target = &s.Stdin
	}

	if *target != nil {
		_ = (*target).Close()
	}

	*target = osf

	return nil
}

// Build splits argv into stages, opening every redirection before returning.
// On error nothing is left open.
func Build(argv []string) (*Pipeline, error) {
	args, bg := SplitBackground(argv)
	pipes := CountPipes(args)
	fs := FsFactory()

	p := &Pipeline{
		Stages:     make([]*Stage, 0, pipes+1),
		Background: bg,
	}

	for i := 0; i <= pipes; i++ {
		st, err := Section(fs, args, pipes, i)
		if err != nil {
			return nil, errors.Join(err, p.Close())
		}

		p.Stages = append(p.Stages, st)

		if len(st.Args) == 0 {
			return nil, errors.Join(fmt.Errorf("stage %d: %w", i+1, ErrEmptyStage), p.Close())
		}
	}

	return p, nil
}
