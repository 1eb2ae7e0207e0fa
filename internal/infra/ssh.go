package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/eliteGoblin/rmgrab/internal/domain"
)

const defaultSSHPort = 22

// SSHShell implements domain.RemoteShell over a single SSH connection.
// Each Run opens a fresh session on the shared client.
type SSHShell struct {
	client *ssh.Client
	agent  net.Conn // ssh-agent connection, nil when no agent is used
	addr   string
	logger *zap.Logger
}

// DialSSH connects and authenticates to the target.
func DialSSH(ctx context.Context, target domain.RemoteTarget, logger *zap.Logger) (*SSHShell, error) {
	port := target.Port
	if port == 0 {
		port = defaultSSHPort
	}
	addr := net.JoinHostPort(target.Address, strconv.Itoa(port))

	auth, agentConn, err := authMethods(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	closeAgent := func() {
		if agentConn != nil {
			_ = agentConn.Close()
		}
	}
	hostKeys, err := hostKeyCallback(target, logger)
	if err != nil {
		closeAgent()
		return nil, fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}

	config := &ssh.ClientConfig{
		User:            target.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         target.ConnectTimeout,
	}

	dialer := net.Dialer{Timeout: target.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		closeAgent()
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrConnection, addr, err)
	}

	if target.ConnectTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(target.ConnectTimeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		closeAgent()
		return nil, fmt.Errorf("%w: handshake with %s: %v", domain.ErrConnection, addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	logger.Info("connected to device",
		zap.String("addr", addr),
		zap.String("user", target.User))

	return &SSHShell{
		client: ssh.NewClient(c, chans, reqs),
		agent:  agentConn,
		addr:   addr,
		logger: logger,
	}, nil
}

// Run executes cmd in a new session. The remote command is killed when ctx is done.
func (s *SSHShell) Run(ctx context.Context, cmd string) (*domain.CommandResult, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: open session: %v", domain.ErrConnection, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	s.logger.Debug("running remote command", zap.String("cmd", cmd))

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		<-done
		return &domain.CommandResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: -1}, ctx.Err()

	case err := <-done:
		result := &domain.CommandResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
		if err == nil {
			return result, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		var missing *ssh.ExitMissingError
		if errors.As(err, &missing) {
			result.ExitCode = -1
			return result, nil
		}
		return result, fmt.Errorf("%w: run %q: %v", domain.ErrConnection, cmd, err)
	}
}

// Close closes the SSH client and the agent connection.
func (s *SSHShell) Close() error {
	s.logger.Debug("closing device connection", zap.String("addr", s.addr))
	err := s.client.Close()
	if s.agent != nil {
		err = multierr.Append(err, s.agent.Close())
	}
	return err
}

// authMethods builds public key (file, then agent) and password auth, in that
// order. The returned agent connection is nil when SSH_AUTH_SOCK is unset or
// unreachable; the caller owns it otherwise.
func authMethods(target domain.RemoteTarget) ([]ssh.AuthMethod, net.Conn, error) {
	var methods []ssh.AuthMethod

	if target.KeyPath != "" {
		pem, err := os.ReadFile(target.KeyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("read identity %s: %w", target.KeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, nil, fmt.Errorf("parse identity %s: %w", target.KeyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	var agentConn net.Conn
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			agentConn = conn
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if target.Password != "" {
		methods = append(methods, ssh.Password(target.Password))
	}

	if len(methods) == 0 {
		return nil, nil, errors.New("no authentication method: set an identity file, ssh-agent or password")
	}
	return methods, agentConn, nil
}

// hostKeyCallback verifies against known_hosts. Unknown hosts are appended
// when AcceptNewHosts is set; changed keys are always rejected.
func hostKeyCallback(target domain.RemoteTarget, logger *zap.Logger) (ssh.HostKeyCallback, error) {
	path := target.KnownHostsPath
	if path == "" {
		return nil, errors.New("known_hosts path is required")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if !target.AcceptNewHosts {
			return nil, fmt.Errorf("known_hosts %s does not exist", path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, nil, 0600); err != nil {
			return nil, err
		}
	}

	verify, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", path, err)
	}

	var mu sync.Mutex
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := verify(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if err == nil || !errors.As(err, &keyErr) || len(keyErr.Want) > 0 || !target.AcceptNewHosts {
			return err
		}

		mu.Lock()
		defer mu.Unlock()
		f, ferr := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
		if ferr != nil {
			return ferr
		}
		defer f.Close()
		line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
		if _, ferr := f.WriteString(line + "\n"); ferr != nil {
			return ferr
		}
		logger.Info("added host key to known_hosts",
			zap.String("host", hostname),
			zap.String("type", key.Type()),
			zap.String("known_hosts", path))
		return nil
	}, nil
}

// Ensure SSHShell implements domain.RemoteShell.
var _ domain.RemoteShell = (*SSHShell)(nil)
