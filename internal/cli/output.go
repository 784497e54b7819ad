package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"incubant/go-deployer/internal/bootstrap/deployconfig"
	"incubant/go-deployer/internal/credential"
	"incubant/go-deployer/internal/deploy"
	"incubant/go-deployer/internal/keystore"
	"incubant/go-deployer/internal/stacks"
)

// Exit codes for CLI commands.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitInvalidInput  = 10
	ExitNetworkFailed = 20
	ExitRejected      = 30
	ExitStorageFailed = 40
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not
// *ExitError map to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// exitCodeFor maps domain errors to exit codes. A halted run that also failed
// to persist reports the halt cause.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, stacks.ErrSubmissionRejected):
		return ExitRejected
	case errors.Is(err, stacks.ErrNetworkUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return ExitNetworkFailed
	case errors.Is(err, deploy.ErrRecordPersist),
		errors.Is(err, deploy.ErrMalformedRecord):
		return ExitStorageFailed
	case errors.Is(err, credential.ErrSecretRequired),
		errors.Is(err, credential.ErrInvalidCredential),
		errors.Is(err, credential.ErrDerivationFailure),
		errors.Is(err, deployconfig.ErrInvalidConfig),
		errors.Is(err, deploy.ErrArtifactUnavailable),
		errors.Is(err, deploy.ErrDuplicateArtifact),
		errors.Is(err, deploy.ErrNoArtifacts),
		errors.Is(err, deploy.ErrResumeMismatch),
		errors.Is(err, stacks.ErrUnknownNetwork),
		errors.Is(err, stacks.ErrNodeURLRequired),
		errors.Is(err, stacks.ErrInvalidContractName),
		errors.Is(err, stacks.ErrEmptyCodeBody),
		errors.Is(err, stacks.ErrCodeBodyTooBig),
		errors.Is(err, keystore.ErrAuthFailed),
		errors.Is(err, keystore.ErrInvalid),
		errors.Is(err, keystore.ErrPassphraseRequired),
		errors.Is(err, keystore.ErrExists):
		return ExitInvalidInput
	default:
		return ExitFailure
	}
}

// classify wraps err with its exit code unless it already carries one.
func classify(message string, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	return WrapExitError(exitCodeFor(err), message, err)
}

// Response is the JSON envelope written with --format json.
type Response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

type output struct {
	format string
	w      io.Writer
}

const (
	statusOK     = "ok"
	statusHalted = "halted"
	statusError  = "error"
)

// emit writes data as a JSON envelope or through text.
func (o output) emit(data any, text func(io.Writer) error) error {
	return o.emitStatus(statusOK, data, text)
}

func (o output) emitStatus(status string, data any, text func(io.Writer) error) error {
	if o.format == formatJSON {
		enc := json.NewEncoder(o.w)
		enc.SetIndent("", "  ")
		return enc.Encode(Response{Status: status, Data: data})
	}
	return text(o.w)
}
