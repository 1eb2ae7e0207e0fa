package domain

import (
	"context"
	"image"
)

// CommandResult is the captured output of one remote command.
type CommandResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// RemoteShell executes commands on the device.
// Implementation: golang.org/x/crypto/ssh.
type RemoteShell interface {
	// Run executes cmd through the remote shell and waits for it.
	// A non-zero exit status is reported in CommandResult, not as an error.
	// Transport and authentication failures wrap ErrConnection.
	Run(ctx context.Context, cmd string) (*CommandResult, error)

	// Close releases the connection.
	Close() error
}

// Device is the read-only view of the tablet the pipeline needs.
// Implementations: ShellDevice (over RemoteShell), LocalDevice (on-device, gopsutil).
type Device interface {
	// ListProcesses returns every visible process.
	ListProcesses(ctx context.Context) ([]ProcessInfo, error)

	// ReadMemoryMap returns the parsed /proc/<pid>/maps.
	ReadMemoryMap(ctx context.Context, pid int) ([]MemoryMapEntry, error)

	// ReadProcessMemory reads length bytes at addr from the process without
	// stopping it. Short reads return whatever arrived plus *PartialReadError.
	ReadProcessMemory(ctx context.Context, pid int, addr uint64, length int) ([]byte, error)

	// Close releases the underlying transport.
	Close() error
}

// Decoder turns a raw frame into 16-bit intensity samples in device orientation.
type Decoder interface {
	Decode(raw []byte, geometry FramebufferGeometry) (*image.Gray16, error)
}

// ImageWriter persists an image; the format follows the path's extension.
type ImageWriter interface {
	WriteImage(ctx context.Context, img image.Image, path string) error
}

// CaptureCatalog journals completed captures.
// Implementation: SQLCipher encrypted SQLite database.
type CaptureCatalog interface {
	// Record appends a capture and returns its assigned ID.
	Record(ctx context.Context, rec CaptureRecord) (int64, error)

	// List returns the newest captures first, at most limit (0 = all).
	List(ctx context.Context, limit int) ([]CaptureRecord, error)

	// Close releases the database connection.
	Close() error
}

// FileSystemManager handles local output-directory operations.
type FileSystemManager interface {
	// EnsureDir creates the directory (and parents) if missing.
	EnsureDir(path string) error

	// WriteFile writes data atomically.
	WriteFile(path string, data []byte) error

	// ReadFile reads a whole file.
	ReadFile(path string) ([]byte, error)

	// ExpandHome expands ~ to the user's home directory.
	ExpandHome(path string) string
}
