package main

import (
	"fmt"
	"io"

	"github.com/spf13/viper"

	"coordline/internal/domain"
)

const (
	exitOK            = 0
	exitGeneral       = 1
	exitLockTimeout   = 10
	exitAgentNotFound = 11
	exitCapacity      = 12
	exitNotFound      = 13
	exitTerminal      = 14
)

// exitCode maps an error onto the process exit status scripts depend on.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	switch domain.Kind(err) {
	case domain.KindLockTimeout:
		return exitLockTimeout
	case domain.KindAgentNotFound:
		return exitAgentNotFound
	case domain.KindCapacityExceeded:
		return exitCapacity
	case domain.KindNotFound:
		return exitNotFound
	case domain.KindAlreadyTerminal:
		return exitTerminal
	default:
		return exitGeneral
	}
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	ExitCode int    `json:"exit_code"`
}

// reportError prints err and returns the exit code. With --json the error is
// also written to stdout as an envelope.
func reportError(stdout, stderr io.Writer, err error) int {
	code := exitCode(err)
	fmt.Fprintln(stderr, "error:", err)
	if viper.GetBool("json") {
		_ = printJSON(stdout, errorEnvelope{Error: errorBody{
			Kind:     domain.Kind(err),
			Message:  err.Error(),
			ExitCode: code,
		}})
	}
	return code
}
