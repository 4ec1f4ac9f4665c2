package actions

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/SoftKiwiGames/ferry/ferry/config"
	"github.com/SoftKiwiGames/ferry/ferry/schema"
	"github.com/SoftKiwiGames/ferry/ferry/shell"
	"github.com/SoftKiwiGames/ferry/ferry/types"
)

// GpgAction installs a repository signing key, e.g. Docker's apt key.
type GpgAction struct {
	Src     string
	Path    string
	Mode    uint32
	Dearmor bool

	httpClient *http.Client
}

func NewGpgAction(action *schema.ActionGpg) Action {
	mode := action.Mode
	if mode == 0 {
		mode = defaultFileMode
	}
	return &GpgAction{
		Src:        action.Src,
		Path:       action.Path,
		Mode:       mode,
		Dearmor:    action.Dearmor,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (a *GpgAction) Execute(ctx context.Context, runtime *types.Runtime) error {
	src, err := expandEnv(a.Src, runtime.Env)
	if err != nil {
		return fmt.Errorf("failed to expand src: %w", err)
	}
	path, err := expandEnv(a.Path, runtime.Env)
	if err != nil {
		return fmt.Errorf("failed to expand path: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "ferry/"+config.Version)
	req.Header.Set("Accept", "*/*")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download GPG key from %s: %w", src, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("failed to download GPG key from %s: HTTP %d\nResponse: %s", src, resp.StatusCode, body)
	}

	sess, err := runtime.Client.Connect(ctx, runtime.Host)
	if err != nil {
		return fmt.Errorf("failed to connect to host: %w", err)
	}
	defer sess.Close()

	if !a.Dearmor {
		if err := sess.CopyFile(ctx, resp.Body, path, a.Mode); err != nil {
			return fmt.Errorf("failed to copy GPG key to host: %w", err)
		}
		return nil
	}

	tmpPath := fmt.Sprintf("/tmp/ferry-gpg-%s.asc", runtime.RunID)
	if err := sess.CopyFile(ctx, resp.Body, tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to copy GPG key to temp location: %w", err)
	}

	dearmorCmd := fmt.Sprintf("gpg --batch --yes --dearmor -o %[1]s < %[2]s && chmod %[3]o %[1]s && rm -f %[2]s",
		shell.Quote(path), shell.Quote(tmpPath), a.Mode)
	if err := sess.Run(ctx, dearmorCmd, runtime.Stdout, runtime.Stderr); err != nil {
		return fmt.Errorf("failed to dearmor GPG key: %w", err)
	}

	return nil
}

func (a *GpgAction) DryRun(ctx context.Context, runtime *types.Runtime) string {
	src, _ := expandEnv(a.Src, runtime.Env)
	path, _ := expandEnv(a.Path, runtime.Env)

	if a.Dearmor {
		return fmt.Sprintf("gpg: download %s, dearmor to %s (mode: %o)", src, path, a.Mode)
	}
	return fmt.Sprintf("gpg: download %s to %s (mode: %o)", src, path, a.Mode)
}
