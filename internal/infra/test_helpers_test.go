package infra

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/eliteGoblin/rmgrab/internal/domain"
)

// mockShell is a test double for domain.RemoteShell. Responses are matched by
// command prefix; the first match wins.
type mockShell struct {
	responses []mockResponse
	commands  []string
	closed    bool
}

type mockResponse struct {
	prefix string
	result *domain.CommandResult
	err    error
}

func newMockShell() *mockShell {
	return &mockShell{}
}

func (m *mockShell) on(prefix string, stdout, stderr string, exitCode int) *mockShell {
	m.responses = append(m.responses, mockResponse{
		prefix: prefix,
		result: &domain.CommandResult{Stdout: []byte(stdout), Stderr: []byte(stderr), ExitCode: exitCode},
	})
	return m
}

func (m *mockShell) onError(prefix string, err error) *mockShell {
	m.responses = append(m.responses, mockResponse{prefix: prefix, err: err})
	return m
}

func (m *mockShell) Run(ctx context.Context, cmd string) (*domain.CommandResult, error) {
	m.commands = append(m.commands, cmd)
	for _, r := range m.responses {
		if strings.HasPrefix(cmd, r.prefix) {
			return r.result, r.err
		}
	}
	return &domain.CommandResult{ExitCode: 127, Stderr: []byte("sh: not found")}, nil
}

func (m *mockShell) Close() error {
	m.closed = true
	return nil
}

// Ensure mockShell implements domain.RemoteShell
var _ domain.RemoteShell = (*mockShell)(nil)

// localShell runs commands with the local sh, for exercising device scripts
// against a fake proc tree.
type localShell struct{}

func (localShell) Run(ctx context.Context, cmd string) (*domain.CommandResult, error) {
	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	c.Stdout = &stdout
	c.Stderr = &stderr
	err := c.Run()

	res := &domain.CommandResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}

func (localShell) Close() error { return nil }
