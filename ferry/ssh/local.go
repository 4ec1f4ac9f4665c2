package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// LocalHost is the pseudo host that local jobs run on.
var LocalHost = Host{Name: "local", Address: "127.0.0.1"}

// NewLocalClient returns a Client whose sessions run commands on the
// operator's machine through an embedded POSIX shell. dir is the working
// directory for commands; empty means the current directory.
func NewLocalClient(dir string) Client {
	return &localClient{dir: dir}
}

type localClient struct {
	dir string
}

func (c *localClient) Connect(ctx context.Context, host Host) (Session, error) {
	return &localSession{dir: c.dir}, nil
}

func (c *localClient) Close() error {
	return nil
}

type localSession struct {
	dir string
}

func (s *localSession) Run(ctx context.Context, cmd string, stdout, stderr io.Writer) error {
	file, err := syntax.NewParser().Parse(strings.NewReader(cmd), "")
	if err != nil {
		return fmt.Errorf("failed to parse command: %w", err)
	}

	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	opts := []interp.RunnerOption{
		interp.StdIO(nil, stdout, stderr),
		interp.Env(expand.ListEnviron(os.Environ()...)),
	}
	if s.dir != "" {
		opts = append(opts, interp.Dir(s.dir))
	}

	runner, err := interp.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create shell: %w", err)
	}

	if err := runner.Run(ctx, file); err != nil {
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

func (s *localSession) CopyFile(ctx context.Context, content io.Reader, path string, mode uint32) error {
	if !filepath.IsAbs(path) && s.dir != "" {
		path = filepath.Join(s.dir, path)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".ferry-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), os.FileMode(mode)); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

func (s *localSession) Close() error {
	return nil
}
