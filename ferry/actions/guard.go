package actions

import (
	"bytes"
	"context"
	"fmt"

	"github.com/SoftKiwiGames/ferry/ferry/schema"
	"github.com/SoftKiwiGames/ferry/ferry/types"
)

// GuardResult represents the outcome of a guard evaluation
type GuardResult struct {
	Pass   bool   // true = continue, false = skip
	Output string // stdout from command (for debugging)
}

// EvaluateGuard runs the guard command on the host. Exit status 0 means
// the job runs; anything else skips it.
func EvaluateGuard(ctx context.Context, guard *schema.Guard, runtime *types.Runtime) (*GuardResult, error) {
	if guard == nil {
		return &GuardResult{Pass: true}, nil
	}

	cmd, err := expandEnv(guard.If, runtime.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to expand guard command: %w", err)
	}

	sess, err := runtime.Client.Connect(ctx, runtime.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to connect for guard check: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	err = sess.Run(ctx, cmd, &stdout, &stderr)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	return &GuardResult{
		Pass:   err == nil,
		Output: stdout.String(),
	}, nil
}

// FormatGuardCondition returns human-readable guard description
func FormatGuardCondition(guard *schema.Guard, env map[string]string) string {
	if guard == nil {
		return ""
	}

	cmd, err := expandEnv(guard.If, env)
	if err != nil {
		cmd = guard.If
	}
	return fmt.Sprintf("guard: %s", cmd)
}
