package actions

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/SoftKiwiGames/ferry/ferry/schema"
	"github.com/SoftKiwiGames/ferry/ferry/shell"
	"github.com/SoftKiwiGames/ferry/ferry/ssh"
	"github.com/SoftKiwiGames/ferry/ferry/types"
)

const defaultFileMode = 0644

type CopyAction struct {
	Src  string
	Dst  string
	Mode uint32
}

func NewCopyAction(action *schema.ActionCopy) Action {
	mode := action.Mode
	if mode == 0 {
		mode = defaultFileMode
	}
	return &CopyAction{
		Src:  action.Src,
		Dst:  action.Dst,
		Mode: mode,
	}
}

func (a *CopyAction) Execute(ctx context.Context, runtime *types.Runtime) error {
	dst, err := expandEnv(a.Dst, runtime.Env)
	if err != nil {
		return fmt.Errorf("failed to expand dst: %w", err)
	}

	data, err := os.ReadFile(a.Src)
	if err != nil {
		return fmt.Errorf("failed to read source file %s: %w", a.Src, err)
	}

	return uploadIfChanged(ctx, runtime, data, dst, a.Mode)
}

func (a *CopyAction) DryRun(ctx context.Context, runtime *types.Runtime) string {
	dst, _ := expandEnv(a.Dst, runtime.Env)
	return fmt.Sprintf("copy: %s to %s (mode: %o, verify checksum)", a.Src, dst, a.Mode)
}

// uploadIfChanged skips the transfer when the remote file already has the
// same content.
func uploadIfChanged(ctx context.Context, runtime *types.Runtime, data []byte, dst string, mode uint32) error {
	sess, err := runtime.Client.Connect(ctx, runtime.Host)
	if err != nil {
		return fmt.Errorf("failed to connect to host: %w", err)
	}
	defer sess.Close()

	local, err := calculateChecksum(bytes.NewReader(data))
	if err != nil {
		return err
	}

	remote, exists, err := getRemoteChecksum(ctx, sess, dst)
	if err != nil {
		return err
	}
	if exists && remote == local {
		fmt.Fprintf(runtime.Stdout, "  %s unchanged\n", dst)
		return nil
	}

	if err := sess.CopyFile(ctx, bytes.NewReader(data), dst, mode); err != nil {
		return fmt.Errorf("failed to copy to %s: %w", dst, err)
	}
	return nil
}

func calculateChecksum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// getRemoteChecksum returns the sha256 of path on the host. A missing file
// or a host without sha256sum is reported as not existing.
func getRemoteChecksum(ctx context.Context, sess ssh.Session, path string) (string, bool, error) {
	var stdout bytes.Buffer
	cmd := fmt.Sprintf("sha256sum %s 2>/dev/null || echo NOTFOUND", shell.Quote(path))
	if err := sess.Run(ctx, cmd, &stdout, io.Discard); err != nil {
		return "", false, nil
	}

	fields := strings.Fields(stdout.String())
	if len(fields) == 0 || fields[0] == "NOTFOUND" {
		return "", false, nil
	}
	return fields[0], true, nil
}
