package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Guizzs26/tdee-sync/internal/client"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the daemon answered with an error
	ExitCommandError = 2 // bad flags, unreachable daemon, unreadable files
)

// GetExitCode maps an error returned by a command to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return ExitFailure
	}
	return ExitCommandError
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Response is the JSON envelope for --format json.
type Response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Print writes data as a JSON envelope, or calls text for human output.
func (f *OutputFormatter) Print(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{Status: "ok", Data: data})
	}
	text(f.Writer)
	return nil
}

// Error writes err in the configured format.
func (f *OutputFormatter) Error(err error) {
	if f.Format == "json" {
		_ = json.NewEncoder(f.Writer).Encode(Response{Status: "error", Error: err.Error()})
		return
	}
	fmt.Fprintf(f.Writer, "Error: %v\n", err)
}
