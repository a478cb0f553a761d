package main

import (
	"errors"

	apperrors "github.com/odvcencio/intest/pkg/errors"
)

type exitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitError) Unwrap() error {
	return e.err
}

func (e exitError) ExitCode() int {
	if e.code == 0 {
		return 1
	}
	return e.code
}

func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitError{code: code, err: err}
}

// exitCodeForError maps errors to process exit codes: 2 for configuration
// problems, 3 when the browser endpoint is unreachable, 1 otherwise.
func exitCodeForError(err error) int {
	if err == nil {
		return 0
	}
	var coder exitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeConfigLoad, apperrors.ErrCodeConfigParse, apperrors.ErrCodeConfigInvalid:
		return 2
	case apperrors.ErrCodeBrowserUnavailable:
		return 3
	}
	return 1
}
