package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"

	"github.com/elee1766/p2prelay/src/config"
	"github.com/elee1766/p2prelay/src/executor"
	"github.com/elee1766/p2prelay/src/mail"
	"github.com/elee1766/p2prelay/src/peer"
	"github.com/elee1766/p2prelay/src/shell"
)

// Exit codes following standard conventions
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // General error
	ExitUsage       = 2 // Usage error
	ExitConfig      = 3 // Configuration error
	ExitPermission  = 5 // Permission error
	ExitNetwork     = 6 // Network error
	ExitTimeout     = 7 // Timeout error
	ExitInterrupted = 8 // Interrupted by user
	ExitUnavailable = 9 // A collaborator is not there
)

// ErrorHandler handles different types of errors and exits with appropriate codes
type ErrorHandler struct {
	logger *slog.Logger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleError handles an error and exits with the appropriate code
func (h *ErrorHandler) HandleError(err error) {
	if err == nil {
		return
	}

	h.logger.Debug("command failed", "error", err)
	fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
	os.Exit(exitCode(err))
}

// exitCode determines the appropriate exit code for an error
func exitCode(err error) int {
	var (
		validationErr config.ValidationError
		netErr        net.Error
		apiErr        *peer.APIError
	)

	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, shell.ErrTimeout):
		return ExitTimeout
	case errors.As(err, &validationErr), errors.Is(err, errConfig):
		return ExitConfig
	case errors.Is(err, fs.ErrPermission):
		return ExitPermission
	case errors.Is(err, peer.ErrPeerOffline), errors.As(err, &apiErr), errors.As(err, &netErr):
		return ExitNetwork
	case errors.Is(err, executor.ErrSessionStopped), errors.Is(err, executor.ErrScriptNotFound):
		return ExitUnavailable
	case errors.Is(err, peer.ErrInvalidPriority), errors.Is(err, mail.ErrNoRecipient),
		errors.Is(err, executor.ErrSkillNotFound), errors.Is(err, errUsage):
		return ExitUsage
	default:
		return ExitError
	}
}

var (
	errConfig = errors.New("configuration error")
	errUsage  = errors.New("usage error")
)

// FatalError logs a fatal error and exits
func FatalError(logger *slog.Logger, err error) {
	NewErrorHandler(logger).HandleError(err)
}
