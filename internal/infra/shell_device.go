package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/rmgrab/internal/domain"
)

// listProcessesScript prints "<pid> <name>" for every process. It only reads
// /proc so it works on busybox userlands without ps -o support.
// The kernel truncates comm to 15 bytes; a comm that long is replaced by the
// basename of argv[0] when that basename starts with it.
const listProcessesScript = `for d in {proc}/[0-9]*; do ` +
	`c=$(cat "$d/comm" 2>/dev/null) || continue; ` +
	`if [ ${#c} -ge 15 ]; then ` +
	`a=$(tr '\000' '\n' < "$d/cmdline" 2>/dev/null | head -n 1); a=${a##*/}; ` +
	`case "$a" in "$c"*) c=$a ;; esac; fi; ` +
	`printf '%s %s\n' "${d##*/}" "$c"; done`

func listProcessesCmd(procRoot string) string {
	return strings.ReplaceAll(listProcessesScript, "{proc}", procRoot)
}

// ShellDevice implements domain.Device by running read-only commands through
// a RemoteShell. Process memory is read through /proc/<pid>/mem with dd, which
// seeks and reads without attaching to (or stopping) the process.
type ShellDevice struct {
	shell  domain.RemoteShell
	logger *zap.Logger
}

// NewShellDevice wraps a remote shell.
func NewShellDevice(shell domain.RemoteShell, logger *zap.Logger) *ShellDevice {
	return &ShellDevice{shell: shell, logger: logger}
}

// ListProcesses returns all processes sorted by PID.
func (d *ShellDevice) ListProcesses(ctx context.Context) ([]domain.ProcessInfo, error) {
	res, err := d.shell.Run(ctx, listProcessesCmd("/proc"))
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	return ParseProcessList(res.Stdout), nil
}

// ReadMemoryMap reads and parses /proc/<pid>/maps.
func (d *ShellDevice) ReadMemoryMap(ctx context.Context, pid int) ([]domain.MemoryMapEntry, error) {
	res, err := d.shell.Run(ctx, fmt.Sprintf("cat /proc/%d/maps", pid))
	if err != nil {
		return nil, fmt.Errorf("read maps of pid %d: %w", pid, err)
	}
	if res.ExitCode != 0 {
		if isDenied(res.Stderr) {
			return nil, fmt.Errorf("%w: read maps of pid %d: %s", domain.ErrAccessDenied, pid, firstLine(res.Stderr))
		}
		return nil, fmt.Errorf("read maps of pid %d: exit %d: %s", pid, res.ExitCode, firstLine(res.Stderr))
	}
	return ParseMemoryMap(res.Stdout)
}

// ReadProcessMemory reads length bytes at addr from /proc/<pid>/mem.
// The first dd seeks with a zero-count copy, the second reads one block of
// exactly length bytes.
func (d *ShellDevice) ReadProcessMemory(ctx context.Context, pid int, addr uint64, length int) ([]byte, error) {
	cmd := fmt.Sprintf("{ dd bs=1 skip=%d count=0 && dd bs=%d count=1; } < /proc/%d/mem", addr, length, pid)

	res, err := d.shell.Run(ctx, cmd)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: reading %d bytes at 0x%x", domain.ErrExtractTimeout, length, addr)
		}
		return nil, err
	}

	if len(res.Stdout) == 0 && isDenied(res.Stderr) {
		return nil, fmt.Errorf("%w: pid %d at 0x%x: %s", domain.ErrAccessDenied, pid, addr, firstLine(res.Stderr))
	}
	if len(res.Stdout) < length {
		d.logger.Warn("short memory read",
			zap.Int("pid", pid),
			zap.Int("want", length),
			zap.Int("got", len(res.Stdout)),
			zap.Int("exit_code", res.ExitCode),
			zap.String("stderr", firstLine(res.Stderr)))
		return res.Stdout, &domain.PartialReadError{Address: addr, Want: length, Got: len(res.Stdout)}
	}
	return res.Stdout[:length], nil
}

// Close closes the underlying shell.
func (d *ShellDevice) Close() error {
	return d.shell.Close()
}

func isDenied(stderr []byte) bool {
	s := strings.ToLower(string(stderr))
	return strings.Contains(s, "permission denied") || strings.Contains(s, "operation not permitted")
}

func firstLine(b []byte) string {
	line, _, _ := bytes.Cut(bytes.TrimSpace(b), []byte("\n"))
	return string(line)
}

// Ensure ShellDevice implements domain.Device.
var _ domain.Device = (*ShellDevice)(nil)
