package ferry

import (
	"context"
	"fmt"
	"time"

	"github.com/SoftKiwiGames/ferry/ferry/deploy"
	"github.com/SoftKiwiGames/ferry/ferry/executor"
	"github.com/SoftKiwiGames/ferry/ferry/ssh"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type deployFlags struct {
	provision provisionFlags
	opts      deploy.Options
	host      string
	sshPort   int
	dryRun    bool
}

var deployBindings = map[string]string{
	"deploy.image":         "image",
	"deploy.user":          "user",
	"deploy.identity_file": "identity-file",
	"deploy.known_hosts":   "known-hosts",
	"deploy.platforms":     "platform",
}

func (f *Ferry) buildDeployCommand() *cobra.Command {
	flags := &deployFlags{}

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Build, tag, replace the remote container and verify it",
		Long: `Run the four-step deployment against one host:

  1. build and push the image for every platform
  2. declare the tag (rejected when mutable unless --allow-mutable-tag)
  3. stop, remove and force-remove the cached image, pull, run
  4. GET http://<host>:<port>/test and check message/version

Without --host the public IP of the provisioned stack is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.runDeploy(cmd.Context(), cmd.Flags(), flags)
		},
	}

	fs := cmd.Flags()
	flags.provision.register(fs)
	fs.StringVar(&flags.opts.Tag, "tag", "", "Immutable image tag to deploy")
	fs.String("image", "", "Image repository, e.g. user/hello")
	fs.StringVar(&flags.host, "host", "", "Target host address (default: provisioned public IP)")
	fs.IntVar(&flags.sshPort, "ssh-port", ssh.DefaultPort, "SSH port of the target host")
	fs.String("user", "", "SSH user")
	fs.String("identity-file", "", "SSH private key")
	fs.String("known-hosts", "", "Verify host keys against this known_hosts file")
	fs.StringSlice("platform", nil, "Build platforms")
	fs.StringVar(&flags.opts.Name, "name", deploy.DefaultName, "Container name")
	fs.IntVar(&flags.opts.Port, "port", deploy.DefaultPort, "Published host port")
	fs.IntVar(&flags.opts.ContainerPort, "container-port", 0, "Container port (default: --port)")
	fs.StringVar(&flags.opts.Context, "context", ".", "Build context")
	fs.StringVar(&flags.opts.Dockerfile, "dockerfile", "", "Dockerfile path")
	fs.BoolVar(&flags.opts.Sudo, "sudo", false, "Run docker through sudo on the host")
	fs.BoolVar(&flags.opts.SkipBuild, "skip-build", false, "Deploy an image that is already pushed")
	fs.BoolVar(&flags.opts.AllowMutableTag, "allow-mutable-tag", false, "Accept tags such as latest")
	fs.DurationVar(&flags.opts.VerifyDelay, "verify-delay", deploy.DefaultVerifyDelay, "Wait before the verification request")
	fs.BoolVar(&flags.dryRun, "dry-run", false, "Show what would be executed without running")

	_ = cmd.MarkFlagRequired("tag")

	return cmd
}

func (f *Ferry) runDeploy(ctx context.Context, fs *pflag.FlagSet, flags *deployFlags) error {
	settings, err := loadSettings(fs, flags.provision.configDir, deployBindings)
	if err != nil {
		return err
	}

	address := flags.host
	if address == "" {
		address, err = f.provisionedAddress(ctx, fs, flags)
		if err != nil {
			return fmt.Errorf("no --host given and the provisioned host is unavailable: %w", err)
		}
	}

	opts := flags.opts
	opts.Image = settings.Deploy.Image
	opts.Platforms = settings.Deploy.Platforms
	opts.Host = ssh.Host{
		Address: address,
		Port:    flags.sshPort,
		User:    settings.Deploy.User,
		KeyPath: settings.Deploy.IdentityFile,
	}

	plan, err := deploy.Build(opts)
	if err != nil {
		return err
	}

	sshClient := ssh.NewClient(ssh.Options{KnownHostsFile: settings.Deploy.KnownHosts})
	defer sshClient.Close()

	exec := executor.New(sshClient, ssh.NewLocalClient("."), f.stdout, f.stderr)
	if flags.dryRun {
		return exec.DryRun(ctx, plan.File, deploy.PlanName, plan.Inventory, nil, nil)
	}

	result, err := exec.ExecutePlan(ctx, plan.File, deploy.PlanName, plan.Inventory, nil, nil)
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}
	if result.Failed {
		return fmt.Errorf("deploy failed")
	}
	return nil
}

func (f *Ferry) provisionedAddress(ctx context.Context, fs *pflag.FlagSet, flags *deployFlags) (string, error) {
	p, err := f.provisioner(ctx, fs, &flags.provision)
	if err != nil {
		return "", err
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	inst, err := p.Outputs(lookupCtx)
	if err != nil {
		return "", err
	}
	if inst.PublicIP == "" {
		return "", fmt.Errorf("instance %s has no public IP (state %s)", inst.ID, inst.State)
	}
	f.out.Info("Using provisioned host %s (%s)", inst.PublicIP, inst.ID)
	return inst.PublicIP, nil
}
