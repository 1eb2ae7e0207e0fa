// Package infra implements infrastructure concerns (transport, process memory,
// decoding, image files, catalog).
package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/eliteGoblin/rmgrab/internal/domain"
)

// LocalDevice implements domain.Device for running directly on the tablet.
// Process listing uses gopsutil; maps and memory come from procfs.
type LocalDevice struct {
	procRoot string
	logger   *zap.Logger
}

// NewLocalDevice creates a device reading the host's /proc.
func NewLocalDevice(logger *zap.Logger) *LocalDevice {
	return &LocalDevice{procRoot: "/proc", logger: logger}
}

// NewLocalDeviceWithProcRoot reads maps and memory under a custom root (for testing).
func NewLocalDeviceWithProcRoot(root string, logger *zap.Logger) *LocalDevice {
	return &LocalDevice{procRoot: root, logger: logger}
}

// ListProcesses returns all processes sorted by PID.
func (d *LocalDevice) ListProcesses(ctx context.Context) ([]domain.ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	found := make([]domain.ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue // Process may have exited
		}
		found = append(found, domain.ProcessInfo{PID: int(p.Pid), Name: name})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].PID < found[j].PID })
	return found, nil
}

// ReadMemoryMap reads and parses <procRoot>/<pid>/maps.
func (d *LocalDevice) ReadMemoryMap(ctx context.Context, pid int) ([]domain.MemoryMapEntry, error) {
	data, err := os.ReadFile(d.procPath(pid, "maps"))
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrAccessDenied, err)
		}
		return nil, fmt.Errorf("read maps of pid %d: %w", pid, err)
	}
	return ParseMemoryMap(data)
}

// ReadProcessMemory reads from <procRoot>/<pid>/mem with pread; the process
// keeps running. The read runs in its own goroutine so ctx can bound it.
func (d *LocalDevice) ReadProcessMemory(ctx context.Context, pid int, addr uint64, length int) ([]byte, error) {
	f, err := os.Open(d.procPath(pid, "mem"))
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrAccessDenied, err)
		}
		return nil, fmt.Errorf("open memory of pid %d: %w", pid, err)
	}

	type readResult struct {
		buf []byte
		err error
	}
	done := make(chan readResult, 1)
	go func() {
		defer f.Close()
		buf := make([]byte, length)
		n, err := f.ReadAt(buf, int64(addr))
		done <- readResult{buf: buf[:n], err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: reading %d bytes at 0x%x: %v", domain.ErrExtractTimeout, length, addr, ctx.Err())
	case r := <-done:
		if len(r.buf) == length {
			return r.buf, nil
		}
		if len(r.buf) == 0 && r.err != nil && !errors.Is(r.err, io.EOF) {
			if os.IsPermission(r.err) {
				return nil, fmt.Errorf("%w: %v", domain.ErrAccessDenied, r.err)
			}
			return nil, fmt.Errorf("read memory of pid %d at 0x%x: %w", pid, addr, r.err)
		}
		d.logger.Warn("short memory read",
			zap.Int("pid", pid),
			zap.Int("want", length),
			zap.Int("got", len(r.buf)),
			zap.Error(r.err))
		return r.buf, &domain.PartialReadError{Address: addr, Want: length, Got: len(r.buf)}
	}
}

// Close is a no-op; there is no transport to release.
func (d *LocalDevice) Close() error {
	return nil
}

func (d *LocalDevice) procPath(pid int, name string) string {
	return filepath.Join(d.procRoot, strconv.Itoa(pid), name)
}

// Ensure LocalDevice implements domain.Device.
var _ domain.Device = (*LocalDevice)(nil)
