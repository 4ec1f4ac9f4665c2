package types

import (
	"io"
	"strconv"

	"github.com/SoftKiwiGames/ferry/ferry/ssh"
)

// Built-in variables set for every job. Users cannot define FERRY_* keys.
const (
	EnvRunID    = "FERRY_RUN_ID"
	EnvPlan     = "FERRY_PLAN"
	EnvTarget   = "FERRY_TARGET"
	EnvHostName = "FERRY_HOST_NAME"
	EnvHostAddr = "FERRY_HOST_ADDR"
	EnvHostUser = "FERRY_HOST_USER"
	EnvHostPort = "FERRY_HOST_PORT"
)

// Runtime is everything an action needs while executing on one host.
type Runtime struct {
	Client ssh.Client
	Env    map[string]string
	RunID  string
	Plan   string
	Target string
	Host   ssh.Host
	Stdout io.Writer
	Stderr io.Writer
}

func NewRuntime(client ssh.Client, runID, plan, target string, host ssh.Host, userEnv map[string]string) *Runtime {
	env := make(map[string]string, len(userEnv)+7)
	for k, v := range userEnv {
		env[k] = v
	}

	env[EnvRunID] = runID
	env[EnvPlan] = plan
	env[EnvTarget] = target
	env[EnvHostName] = host.Name
	env[EnvHostAddr] = host.IP()
	env[EnvHostUser] = host.User
	port := host.Port
	if port == 0 {
		port = ssh.DefaultPort
	}
	env[EnvHostPort] = strconv.Itoa(port)

	return &Runtime{
		Client: client,
		Env:    env,
		RunID:  runID,
		Plan:   plan,
		Target: target,
		Host:   host,
		Stdout: io.Discard,
		Stderr: io.Discard,
	}
}

// WithOutput sets the writers command output is streamed to.
func (r *Runtime) WithOutput(stdout, stderr io.Writer) *Runtime {
	if stdout != nil {
		r.Stdout = stdout
	}
	if stderr != nil {
		r.Stderr = stderr
	}
	return r
}
