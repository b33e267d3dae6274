// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package ex

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
)

// -----------------------------------------------------------------------------
// Stackful Errors
//
// Errors created here remember where they were born. Create them once at the
// origin with New/Newf, or attach a frame to an error returned by a library
// with Wrap/Wrapf, and then simply return them up the call chain:
//
//	if err := xmlquery.Parse(r); err != nil {
//	    return ex.Wrapf(err, "failed to parse directive document")
//	}
//	if kind == unknown {
//	    return ex.Newf("unknown source kind %q", kind)
//	}
//
// Wrapping an error that is already stackful only appends the message, the
// original frames are kept. Stack returns the frames for debug logging and
// Fatal prints both to stderr before exiting, it should only be used by main.

const (
	numSkipFrame = 4 // skip the {New,Newf,Wrap,Wrapf} caller
	modPrefix    = "github.com/open-telemetry/opentelemetry-go-live-instrumentation/"
	maxFrames    = 30
)

type stackfulError struct {
	message []string
	frame   []string
	wrapped error
}

func (e *stackfulError) Error() string { return strings.Join(e.message, "\n") }
func (e *stackfulError) Unwrap() error { return e.wrapped }

func captureStack() []string {
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(numSkipFrame, pcs)
	frameList := make([]string, 0, n)
	if n == 0 {
		return frameList
	}
	frames := runtime.CallersFrames(pcs[:n])
	for cnt := 0; ; cnt++ {
		frame, more := frames.Next()
		fnName := strings.TrimPrefix(frame.Function, modPrefix)
		frameList = append(frameList, fmt.Sprintf("[%d]%s:%d %s", cnt, frame.File, frame.Line, fnName))
		if !more {
			break
		}
	}
	return frameList
}

func wrapOrCreate(previousErr error, format string, args ...any) error {
	se := &stackfulError{}
	if errors.As(previousErr, &se) {
		if attach := fmt.Sprintf(format, args...); attach != "" {
			se.message = append(se.message, attach)
		}
		return previousErr
	}
	errMsg := fmt.Sprintf(format, args...)
	if previousErr != nil {
		if errMsg == "" {
			errMsg = previousErr.Error()
		} else {
			errMsg = fmt.Sprintf("%s: %s", errMsg, previousErr.Error())
		}
	}
	return &stackfulError{
		message: []string{errMsg},
		frame:   captureStack(),
		wrapped: previousErr,
	}
}

func Wrap(previousErr error) error {
	if previousErr == nil {
		return nil
	}
	return wrapOrCreate(previousErr, "")
}

func Wrapf(previousErr error, format string, args ...any) error {
	return wrapOrCreate(previousErr, format, args...)
}

func New(message string) error {
	return wrapOrCreate(nil, "%s", message)
}

func Newf(format string, args ...any) error {
	return wrapOrCreate(nil, format, args...)
}

// Stack returns the frames recorded when err was created, or nil if err does
// not carry any.
func Stack(err error) []string {
	se := &stackfulError{}
	if errors.As(err, &se) {
		return se.frame
	}
	return nil
}

func Fatal(err error) {
	if err == nil {
		panic("Fatal error: unknown")
	}
	e := &stackfulError{}
	if errors.As(err, &e) {
		var sb strings.Builder
		for i, m := range e.message {
			fmt.Fprintf(&sb, "[%d] %s\n", i, m)
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error:\n%s\nStack:\n%s\n",
			sb.String(), strings.Join(e.frame, "\n"))
		os.Exit(1)
	}
	panic(err)
}
