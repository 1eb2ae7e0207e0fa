package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the capture pipeline. Stages wrap these with %w;
// callers classify with errors.Is.
var (
	ErrConnection          = errors.New("connection error")
	ErrProcessNotFound     = errors.New("process not found")
	ErrFramebufferNotFound = errors.New("framebuffer not found")
	ErrPartialRead         = errors.New("partial read")
	ErrExtractTimeout      = errors.New("extract timeout")
	ErrAccessDenied        = errors.New("access denied")
	ErrDecode              = errors.New("decode error")
	ErrExport              = errors.New("export error")
	ErrConfig              = errors.New("invalid configuration")
)

// PartialReadError reports a memory read that returned fewer bytes than requested.
type PartialReadError struct {
	Address uint64
	Want    int
	Got     int
}

func (e *PartialReadError) Error() string {
	return fmt.Sprintf("partial read at 0x%x: got %d of %d bytes", e.Address, e.Got, e.Want)
}

// Is makes errors.Is(err, ErrPartialRead) match.
func (e *PartialReadError) Is(target error) bool {
	return target == ErrPartialRead
}

// Exit codes returned by the CLI, one per error kind.
const (
	ExitOK = iota
	ExitGeneric
	ExitConfig
	ExitConnection
	ExitProcessNotFound
	ExitFramebufferNotFound
	ExitExtract
	ExitDecode
	ExitExport
)

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrConfig):
		return ExitConfig
	case errors.Is(err, ErrConnection):
		return ExitConnection
	case errors.Is(err, ErrProcessNotFound):
		return ExitProcessNotFound
	case errors.Is(err, ErrFramebufferNotFound):
		return ExitFramebufferNotFound
	case errors.Is(err, ErrPartialRead), errors.Is(err, ErrExtractTimeout), errors.Is(err, ErrAccessDenied):
		return ExitExtract
	case errors.Is(err, ErrDecode):
		return ExitDecode
	case errors.Is(err, ErrExport):
		return ExitExport
	default:
		return ExitGeneric
	}
}

// Retryable reports whether re-running the whole pipeline may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrPartialRead) ||
		errors.Is(err, ErrExtractTimeout)
}
