package errors

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Process exit codes shared by the single-use and server entry points.
const (
	ExitSuccess              = 0
	ExitInvalidInput         = 1
	ExitUnhandled            = 2
	ExitGenerationFailed     = 3
	ExitServerAlreadyRunning = 4
)

// CLIErrorAdapter handles error presentation and exit code determination for CLI applications.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
	out     io.Writer
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{
		verbose: verbose,
		logger:  logger,
		out:     os.Stderr,
	}
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	classified, ok := AsClassified(err)
	if !ok {
		return ExitUnhandled
	}
	switch classified.Category() {
	case CategoryValidation, CategoryConfig, CategoryNotFound:
		return ExitInvalidInput
	case CategoryGenerator, CategoryScheduling, CategoryProject, CategoryFileSystem, CategoryIsolation:
		return ExitGenerationFailed
	case CategoryLifecycle:
		return ExitServerAlreadyRunning
	default:
		return ExitUnhandled
	}
}

// FormatError formats an error for user-facing display.
// Verbose mode prints the whole chain, otherwise only the top-level message.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}
	classified, ok := AsClassified(err)
	if !ok || a.verbose {
		return fmt.Sprintf("Error: %v", err)
	}
	if classified.Cause() != nil {
		return fmt.Sprintf("Error: %s (use -v for details)", classified.Message())
	}
	return "Error: " + classified.Message()
}

// Report logs and prints the error and returns the exit code without exiting.
func (a *CLIErrorAdapter) Report(err error) int {
	if err == nil {
		return ExitSuccess
	}
	a.logError(err)
	_, _ = fmt.Fprintln(a.out, a.FormatError(err))
	return a.ExitCodeFor(err)
}

// HandleError processes an error and exits the program with appropriate code.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}
	os.Exit(a.Report(err))
}

func (a *CLIErrorAdapter) logError(err error) {
	classified, ok := AsClassified(err)
	if !ok {
		a.logger.Error("Unclassified error", "error", err)
		return
	}
	attrs := []slog.Attr{
		slog.String("category", string(classified.Category())),
		slog.Int("exit_code", a.ExitCodeFor(err)),
	}
	if classified.Cause() != nil {
		attrs = append(attrs, slog.String("cause", classified.Cause().Error()))
	}
	for k, v := range classified.Context() {
		attrs = append(attrs, slog.Any(k, v))
	}
	a.logger.LogAttrs(context.Background(), slogLevelFromSeverity(classified.Severity()), classified.Message(), attrs...)
}

func slogLevelFromSeverity(severity ErrorSeverity) slog.Level {
	switch severity {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
