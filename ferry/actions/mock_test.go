package actions

import (
	"context"
	"io"
	"sync"

	"github.com/SoftKiwiGames/ferry/ferry/ssh"
	"github.com/SoftKiwiGames/ferry/ferry/types"
)

// mockSession is a test double for ssh.Session
type mockSession struct {
	mu           sync.Mutex
	commands     []string
	runFunc      func(ctx context.Context, cmd string, stdout, stderr io.Writer) error
	copyFileFunc func(ctx context.Context, content io.Reader, remotePath string, mode uint32) error
}

func (m *mockSession) Run(ctx context.Context, cmd string, stdout, stderr io.Writer) error {
	m.mu.Lock()
	m.commands = append(m.commands, cmd)
	m.mu.Unlock()

	if m.runFunc != nil {
		return m.runFunc(ctx, cmd, stdout, stderr)
	}
	return nil
}

func (m *mockSession) CopyFile(ctx context.Context, content io.Reader, remotePath string, mode uint32) error {
	if m.copyFileFunc != nil {
		return m.copyFileFunc(ctx, content, remotePath, mode)
	}
	return nil
}

func (m *mockSession) Close() error {
	return nil
}

func (m *mockSession) ran() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

// mockClient hands out the same session for every host.
type mockClient struct {
	session    *mockSession
	connectErr error
}

func (c *mockClient) Connect(ctx context.Context, host ssh.Host) (ssh.Session, error) {
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	return c.session, nil
}

func (c *mockClient) Close() error {
	return nil
}

func newTestRuntime(sess *mockSession, env map[string]string) *types.Runtime {
	host := ssh.Host{Name: "web-1", Address: "10.0.0.1", User: "ubuntu"}
	return types.NewRuntime(&mockClient{session: sess}, "run-1", "deploy", "web", host, env)
}
