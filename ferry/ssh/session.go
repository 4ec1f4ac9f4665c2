package ssh

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/SoftKiwiGames/ferry/ferry/shell"
	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

type Session interface {
	Run(ctx context.Context, cmd string, stdout, stderr io.Writer) error
	CopyFile(ctx context.Context, content io.Reader, remotePath string, mode uint32) error
	Close() error
}

type session struct {
	conn *ssh.Client
	host Host
}

func newSession(conn *ssh.Client, host Host) Session {
	return &session{
		conn: conn,
		host: host,
	}
}

func (s *session) Run(ctx context.Context, cmd string, stdout, stderr io.Writer) error {
	return s.run(ctx, cmd, nil, stdout, stderr)
}

// run executes cmd in a fresh channel. Cancelling ctx closes the channel,
// which makes the remote side see a hangup.
func (s *session) run(ctx context.Context, cmd string, stdin io.Reader, stdout, stderr io.Writer) error {
	sess, err := s.conn.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create SSH session: %w", err)
	}
	defer sess.Close()

	sess.Stdin = stdin
	sess.Stdout = stdout
	sess.Stderr = stderr

	if err := sess.Start(cmd); err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- sess.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("command failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		sess.Close()
		return ctx.Err()
	}
}

// CopyFile streams content into a temp file and renames it into place, so
// readers never see a partial file.
func (s *session) CopyFile(ctx context.Context, content io.Reader, remotePath string, mode uint32) error {
	tmpPath := fmt.Sprintf("/tmp/.ferry-%s-%s", path.Base(remotePath), uuid.NewString()[:8])

	writeCmd := fmt.Sprintf("cat > %s && chmod %o %s && mv %s %s",
		shell.Quote(tmpPath), mode, shell.Quote(tmpPath),
		shell.Quote(tmpPath), shell.Quote(remotePath))

	if err := s.run(ctx, writeCmd, content, nil, nil); err != nil {
		// best effort, the temp file may not exist
		_ = s.run(context.Background(), "rm -f "+shell.Quote(tmpPath), nil, nil, nil)
		return fmt.Errorf("failed to write %s: %w", remotePath, err)
	}

	return nil
}

func (s *session) Close() error {
	// Connection is owned by the client
	return nil
}
