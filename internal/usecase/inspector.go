// Package usecase contains the capture pipeline stages.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"

	"go.uber.org/zap"

	"github.com/eliteGoblin/rmgrab/internal/domain"
)

// DefaultSizeTolerance accepts mappings padded up to one page past a frame multiple.
const DefaultSizeTolerance = 4096

// InspectorConfig holds framebuffer location settings.
type InspectorConfig struct {
	ProcessName string
	Geometry    domain.FramebufferGeometry
	// SizeTolerance is the slack allowed between a mapping's usable size and
	// an exact multiple of the frame size.
	SizeTolerance uint64
	// LabelPattern, when set, is a path.Match glob the mapping label must match.
	LabelPattern string
	// AnchorLabel, when set, ranks the mapping right after the one with this
	// label first, and accepts it regardless of size tolerance.
	AnchorLabel string
}

// Candidate is a memory mapping that could hold the framebuffer.
type Candidate struct {
	Entry     domain.MemoryMapEntry
	Frames    uint64 // Whole frames that fit after the header offset
	Remainder uint64 // Usable bytes left over after Frames frames
	Anchored  bool   // Directly follows the anchor mapping
}

// Exact reports whether the usable size is an exact multiple of the frame size.
func (c Candidate) Exact() bool { return c.Remainder == 0 }

// RankCandidates returns the mappings that may hold the framebuffer, best first.
// Order: anchored, exact multiple, larger size, lower start address.
func RankCandidates(entries []domain.MemoryMapEntry, cfg InspectorConfig) []Candidate {
	frame := uint64(cfg.Geometry.FrameSize())
	if frame == 0 {
		return nil
	}

	var candidates []Candidate
	for i, e := range entries {
		if !e.Readable() {
			continue
		}
		if cfg.LabelPattern != "" {
			if ok, _ := path.Match(cfg.LabelPattern, e.Label); !ok {
				continue
			}
		}
		size := e.Size()
		if size < cfg.Geometry.HeaderOffset+frame {
			continue
		}
		usable := size - cfg.Geometry.HeaderOffset
		c := Candidate{
			Entry:     e,
			Frames:    usable / frame,
			Remainder: usable % frame,
			Anchored:  cfg.AnchorLabel != "" && i > 0 && labelMatches(cfg.AnchorLabel, entries[i-1].Label),
		}
		if c.Remainder > cfg.SizeTolerance && !c.Anchored {
			continue
		}
		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Anchored != b.Anchored {
			return a.Anchored
		}
		if a.Exact() != b.Exact() {
			return a.Exact()
		}
		if a.Entry.Size() != b.Entry.Size() {
			return a.Entry.Size() > b.Entry.Size()
		}
		return a.Entry.Start < b.Entry.Start
	})
	return candidates
}

func labelMatches(pattern, label string) bool {
	if pattern == label {
		return true
	}
	ok, _ := path.Match(pattern, label)
	return ok
}

// Inspector locates the framebuffer inside the display process.
type Inspector struct {
	config InspectorConfig
	logger *zap.Logger
}

// NewInspector creates an inspector.
func NewInspector(config InspectorConfig, logger *zap.Logger) *Inspector {
	return &Inspector{config: config, logger: logger}
}

// FindProcesses returns the PIDs of processes named exactly name, ascending.
func (i *Inspector) FindProcesses(ctx context.Context, device domain.Device, name string) ([]int, error) {
	procs, err := device.ListProcesses(ctx)
	if err != nil {
		return nil, err
	}

	var pids []int
	for _, p := range procs {
		if p.Name == name {
			pids = append(pids, p.PID)
		}
	}
	if len(pids) == 0 {
		return nil, fmt.Errorf("%w: no process named %q", domain.ErrProcessNotFound, name)
	}
	sort.Ints(pids)
	return pids, nil
}

// Inspect reads the memory map of pid and ranks its candidates.
func (i *Inspector) Inspect(ctx context.Context, device domain.Device, pid int) (*domain.ProcessHandle, []Candidate, error) {
	entries, err := device.ReadMemoryMap(ctx, pid)
	if err != nil {
		return nil, nil, err
	}
	handle := &domain.ProcessHandle{PID: pid, Name: i.config.ProcessName, Entries: entries}
	return handle, RankCandidates(entries, i.config), nil
}

// LocateFramebuffer finds the display process and its live framebuffer.
// The lowest matching PID is inspected first; higher PIDs are only tried
// when it has no candidate mapping.
func (i *Inspector) LocateFramebuffer(ctx context.Context, device domain.Device, processName string) (*domain.FramebufferRegion, error) {
	if err := i.config.Geometry.Validate(); err != nil {
		return nil, err
	}

	pids, err := i.FindProcesses(ctx, device, processName)
	if err != nil {
		return nil, err
	}
	i.logger.Info("found display process",
		zap.String("name", processName),
		zap.Ints("pids", pids))

	var lastErr error
	for _, pid := range pids {
		handle, candidates, err := i.Inspect(ctx, device, pid)
		if err != nil {
			if errors.Is(err, domain.ErrConnection) || ctx.Err() != nil {
				return nil, err
			}
			i.logger.Warn("failed to read memory map", zap.Int("pid", pid), zap.Error(err))
			lastErr = err
			continue
		}
		if len(candidates) == 0 {
			i.logger.Info("no framebuffer candidate in process",
				zap.Int("pid", pid),
				zap.Int("mappings", len(handle.Entries)))
			continue
		}

		best := candidates[0]
		region := &domain.FramebufferRegion{
			PID:      pid,
			Base:     best.Entry.Start + i.config.Geometry.HeaderOffset,
			Length:   i.config.Geometry.FrameSize(),
			Geometry: i.config.Geometry,
			Entry:    best.Entry,
		}
		i.logger.Info("located framebuffer",
			zap.Int("pid", pid),
			zap.String("base", fmt.Sprintf("0x%x", region.Base)),
			zap.Int("length", region.Length),
			zap.Uint64("mapping_size", best.Entry.Size()),
			zap.Uint64("frames", best.Frames),
			zap.Bool("anchored", best.Anchored),
			zap.Int("candidates", len(candidates)))
		return region, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: no mapping of %d bytes in %q (last error: %v)",
			domain.ErrFramebufferNotFound, i.config.Geometry.FrameSize(), processName, lastErr)
	}
	return nil, fmt.Errorf("%w: no readable mapping of %d bytes in %q",
		domain.ErrFramebufferNotFound, i.config.Geometry.FrameSize(), processName)
}
