package infra

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/eliteGoblin/rmgrab/internal/domain"
)

// ParseMemoryMap parses the text of /proc/<pid>/maps.
// Format per line: start-end perms offset dev inode [label]
func ParseMemoryMap(data []byte) ([]domain.MemoryMapEntry, error) {
	var entries []domain.MemoryMapEntry

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := parseMapsLine(line)
		if err != nil {
			return nil, fmt.Errorf("maps line %d: %w", lineNo, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func parseMapsLine(line string) (domain.MemoryMapEntry, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return domain.MemoryMapEntry{}, fmt.Errorf("expected at least 5 fields, got %d", len(fields))
	}

	startStr, endStr, ok := strings.Cut(fields[0], "-")
	if !ok {
		return domain.MemoryMapEntry{}, fmt.Errorf("malformed address range %q", fields[0])
	}
	start, err := strconv.ParseUint(startStr, 16, 64)
	if err != nil {
		return domain.MemoryMapEntry{}, fmt.Errorf("start address: %w", err)
	}
	end, err := strconv.ParseUint(endStr, 16, 64)
	if err != nil {
		return domain.MemoryMapEntry{}, fmt.Errorf("end address: %w", err)
	}
	if end < start {
		return domain.MemoryMapEntry{}, fmt.Errorf("address range %q ends before it starts", fields[0])
	}
	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return domain.MemoryMapEntry{}, fmt.Errorf("offset: %w", err)
	}
	inode, err := strconv.ParseUint(fields[4], 10, 64)
	if err != nil {
		return domain.MemoryMapEntry{}, fmt.Errorf("inode: %w", err)
	}

	return domain.MemoryMapEntry{
		Start:  start,
		End:    end,
		Perms:  fields[1],
		Offset: offset,
		Device: fields[3],
		Inode:  inode,
		Label:  strings.Join(fields[5:], " "),
	}, nil
}

// ParseProcessList parses "<pid> <name>" lines, skipping anything unparsable
// (processes can exit between listing and reading their comm).
// The result is sorted by PID.
func ParseProcessList(data []byte) []domain.ProcessInfo {
	var procs []domain.ProcessInfo

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		pidStr, name, ok := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(pidStr)
		if err != nil || pid <= 0 {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		procs = append(procs, domain.ProcessInfo{PID: pid, Name: name})
	}

	sort.Slice(procs, func(i, j int) bool { return procs[i].PID < procs[j].PID })
	return procs
}
