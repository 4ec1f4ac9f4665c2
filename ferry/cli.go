package ferry

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/SoftKiwiGames/ferry/ferry/config"
	"github.com/SoftKiwiGames/ferry/ferry/executor"
	"github.com/SoftKiwiGames/ferry/ferry/inventory"
	"github.com/SoftKiwiGames/ferry/ferry/loader"
	"github.com/SoftKiwiGames/ferry/ferry/ssh"
	"github.com/SoftKiwiGames/ferry/ferry/ui"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/wzshiming/ctc"
)

type Ferry struct {
	stdout io.Writer
	stderr io.Writer
	out    *ui.Output
	loader *loader.Loader
}

func New(stdout, stderr io.Writer) *Ferry {
	return &Ferry{
		stdout: stdout,
		stderr: stderr,
		out:    ui.NewOutput(stdout, stderr),
		loader: loader.New(),
	}
}

func (f *Ferry) Run() {
	if err := f.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(f.stderr, "%sError:%s %v\n", ctc.ForegroundRed, ctc.Reset, err)
		os.Exit(1)
	}
}

// Execute runs the command line in args.
func (f *Ferry) Execute(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := f.buildRootCommand()
	root.SetArgs(args)
	root.SetOut(f.stdout)
	root.SetErr(f.stderr)
	return root.ExecuteContext(ctx)
}

func (f *Ferry) buildRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ferry",
		Short:         "Ferry - provision a host, ship a container, check it answers",
		Long:          "Ferry provisions a single EC2 host, deploys a container image to it over SSH and verifies the result over HTTP.",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		f.buildRunCommand(),
		f.buildInitCommand(),
		f.buildServeCommand(),
		f.buildProvisionCommand(),
		f.buildDeployCommand(),
		f.buildCloudCommand(),
	)
	return root
}

func (f *Ferry) buildRunCommand() *cobra.Command {
	var (
		configDir  string
		targets    []string
		envVars    []string
		dryRun     bool
		knownHosts string
	)

	cmd := &cobra.Command{
		Use:   "run [plan]",
		Short: "Execute a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.runPlan(cmd.Context(), args[0], configDir, targets, envVars, dryRun, knownHosts)
		},
	}

	cmd.Flags().StringVarP(&configDir, "config-dir", "c", ".", "Directory to search for *.ferry.yaml files")
	cmd.Flags().StringSliceVarP(&targets, "target", "t", nil, "Target groups to execute on")
	cmd.Flags().StringSliceVarP(&envVars, "env", "e", nil, "Environment variables (KEY=VALUE)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be executed without running")
	cmd.Flags().StringVar(&knownHosts, "known-hosts", "", "Verify host keys against this known_hosts file")

	return cmd
}

func (f *Ferry) runPlan(ctx context.Context, planName, configDir string, targets, envVars []string, dryRun bool, knownHosts string) error {
	file, err := f.loader.LoadDirectory(configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := f.loader.Validate(file); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if _, err := f.loader.LoadPlan(file, planName); err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}

	env, err := parseEnvVars(envVars)
	if err != nil {
		return fmt.Errorf("failed to parse environment variables: %w", err)
	}
	expandedEnv, err := f.loader.ExpandEnv(env)
	if err != nil {
		return fmt.Errorf("failed to expand environment variables: %w", err)
	}
	if err := loader.ValidatePlanEnv(file, planName, expandedEnv); err != nil {
		return fmt.Errorf("environment validation failed: %w", err)
	}

	inv, err := inventory.LoadDirectory(configDir)
	if err != nil {
		return fmt.Errorf("failed to load inventory: %w", err)
	}

	sshClient := ssh.NewClient(ssh.Options{KnownHostsFile: knownHosts})
	defer sshClient.Close()

	exec := executor.New(sshClient, ssh.NewLocalClient(configDir), f.stdout, f.stderr)
	if dryRun {
		return exec.DryRun(ctx, file, planName, inv, targets, expandedEnv)
	}

	result, err := exec.ExecutePlan(ctx, file, planName, inv, targets, expandedEnv)
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}
	if result.Failed {
		return fmt.Errorf("plan failed")
	}
	return nil
}

func parseEnvVars(envVars []string) (map[string]string, error) {
	env := make(map[string]string)
	for _, ev := range envVars {
		key, value, ok := strings.Cut(ev, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid environment variable format: %s (expected KEY=VALUE)", ev)
		}
		env[key] = value
	}
	return env, nil
}

// loadSettings reads ferry.yaml and FERRY_* from dir with the given flags
// bound to config keys. Flags only win when set on the command line.
func loadSettings(flags *pflag.FlagSet, dir string, bindings map[string]string) (*config.Settings, error) {
	v := config.New(dir)
	for key, name := range bindings {
		flag := flags.Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return config.Load(v, dir)
}
