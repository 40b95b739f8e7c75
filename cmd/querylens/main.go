package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess     = 0 // Query answered (and evaluated, when required)
	ExitQueryFailed = 1 // Query or its evaluation did not succeed
	ExitError       = 2 // Configuration or runtime error
)

// QueryFailedError indicates that the command ran to completion but the
// query, its evaluation, or the backend it checked did not succeed.
type QueryFailedError struct {
	Message string
}

func (e *QueryFailedError) Error() string {
	return e.Message
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var queryFailedErr *QueryFailedError
	if errors.As(err, &queryFailedErr) {
		return ExitQueryFailed
	}
	// All other errors are configuration/runtime errors
	return ExitError
}
