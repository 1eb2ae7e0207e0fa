// Package fixtures provides synthetic devices and frames for pipeline tests.
package fixtures

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/eliteGoblin/rmgrab/internal/domain"
)

// Segment is a run of readable bytes at a fixed address in a fake process.
type Segment struct {
	Addr uint64
	Data []byte
}

// FakeDevice implements domain.Device from in-memory process tables.
type FakeDevice struct {
	mu sync.Mutex

	Processes []domain.ProcessInfo
	Maps      map[int][]domain.MemoryMapEntry
	Memory    map[int][]Segment

	ListErr  error
	MapsErr  map[int]error
	ReadErr  error
	ReadHang bool // Block reads until the context is done
	Truncate int  // Return at most this many bytes per read when > 0

	Reads  int
	Closed bool
}

// NewFakeDevice creates an empty device.
func NewFakeDevice() *FakeDevice {
	return &FakeDevice{
		Maps:    make(map[int][]domain.MemoryMapEntry),
		Memory:  make(map[int][]Segment),
		MapsErr: make(map[int]error),
	}
}

// AddProcess registers a process with its memory map.
func (d *FakeDevice) AddProcess(pid int, name string, entries ...domain.MemoryMapEntry) *FakeDevice {
	d.Processes = append(d.Processes, domain.ProcessInfo{PID: pid, Name: name})
	d.Maps[pid] = append(d.Maps[pid], entries...)
	return d
}

// WriteMemory places data at addr in pid's address space.
func (d *FakeDevice) WriteMemory(pid int, addr uint64, data []byte) *FakeDevice {
	d.Memory[pid] = append(d.Memory[pid], Segment{Addr: addr, Data: data})
	return d
}

func (d *FakeDevice) ListProcesses(ctx context.Context) ([]domain.ProcessInfo, error) {
	if d.ListErr != nil {
		return nil, d.ListErr
	}
	procs := append([]domain.ProcessInfo(nil), d.Processes...)
	sort.Slice(procs, func(i, j int) bool { return procs[i].PID < procs[j].PID })
	return procs, nil
}

func (d *FakeDevice) ReadMemoryMap(ctx context.Context, pid int) ([]domain.MemoryMapEntry, error) {
	if err := d.MapsErr[pid]; err != nil {
		return nil, err
	}
	entries, ok := d.Maps[pid]
	if !ok {
		return nil, fmt.Errorf("no such process %d", pid)
	}
	return entries, nil
}

func (d *FakeDevice) ReadProcessMemory(ctx context.Context, pid int, addr uint64, length int) ([]byte, error) {
	d.mu.Lock()
	d.Reads++
	d.mu.Unlock()

	if d.ReadHang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.ReadErr != nil {
		return nil, d.ReadErr
	}

	for _, s := range d.Memory[pid] {
		end := s.Addr + uint64(len(s.Data))
		if addr < s.Addr || addr >= end {
			continue
		}
		n := min(uint64(length), end-addr)
		if d.Truncate > 0 {
			n = min(n, uint64(d.Truncate))
		}
		out := make([]byte, n)
		copy(out, s.Data[addr-s.Addr:])
		if int(n) < length {
			return out, &domain.PartialReadError{Address: addr, Want: length, Got: int(n)}
		}
		return out, nil
	}
	return nil, &domain.PartialReadError{Address: addr, Want: length}
}

func (d *FakeDevice) Close() error {
	d.Closed = true
	return nil
}

// Mapping builds a readable private mapping entry.
func Mapping(start, size uint64, label string) domain.MemoryMapEntry {
	return domain.MemoryMapEntry{
		Start: start,
		End:   start + size,
		Perms: "rw-p",
		Label: label,
	}
}

// Ensure FakeDevice implements domain.Device.
var _ domain.Device = (*FakeDevice)(nil)
