package ferry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/SoftKiwiGames/ferry/ferry/config"
	"github.com/SoftKiwiGames/ferry/ferry/provision"
	"github.com/SoftKiwiGames/ferry/ferry/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type provisionFlags struct {
	configDir   string
	profile     string
	waitTimeout time.Duration
}

var provisionBindings = map[string]string{
	"provision.region":        "region",
	"provision.instance_type": "instance-type",
	"provision.key_name":      "key-name",
	"provision.declaration":   "declaration",
}

func (p *provisionFlags) register(flags *pflag.FlagSet) {
	flags.StringVarP(&p.configDir, "config-dir", "c", ".", "Directory containing ferry.yaml and the declaration")
	flags.String("declaration", "", "Path to the *.ferry.hcl declaration")
	flags.String("region", "", "AWS region (var.region)")
	flags.String("instance-type", "", "EC2 instance type (var.instance_type)")
	flags.String("key-name", "", "EC2 key pair name (var.key_name)")
	flags.StringVar(&p.profile, "profile", "", "AWS shared config profile")
	flags.DurationVar(&p.waitTimeout, "wait-timeout", provision.DefaultWaitTimeout, "How long to wait for instance state changes")
}

func (f *Ferry) buildProvisionCommand() *cobra.Command {
	flags := &provisionFlags{}

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Provision the EC2 host declared in *.ferry.hcl",
	}
	flags.register(cmd.PersistentFlags())

	cmd.AddCommand(
		&cobra.Command{
			Use:   "apply",
			Short: "Create or replace the declared resources",
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := f.provisioner(cmd.Context(), cmd.Flags(), flags)
				if err != nil {
					return err
				}
				result, err := p.Apply(cmd.Context())
				if err != nil {
					return err
				}
				f.printChanges(result.Changes)
				f.printInstance(result.Instance)
				return nil
			},
		},
		&cobra.Command{
			Use:   "plan",
			Short: "Show what apply would change",
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := f.provisioner(cmd.Context(), cmd.Flags(), flags)
				if err != nil {
					return err
				}
				result, err := p.Plan(cmd.Context())
				if err != nil {
					return err
				}
				f.printChanges(result.Changes)
				return nil
			},
		},
		&cobra.Command{
			Use:   "destroy",
			Short: "Terminate the instance and delete its security group",
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := f.provisioner(cmd.Context(), cmd.Flags(), flags)
				if err != nil {
					return err
				}
				result, err := p.Destroy(cmd.Context())
				if err != nil {
					return err
				}
				f.printChanges(result.Changes)
				return nil
			},
		},
		f.buildProvisionOutputCommand(flags),
	)

	return cmd
}

func (f *Ferry) buildProvisionOutputCommand(flags *provisionFlags) *cobra.Command {
	var ipOnly bool

	cmd := &cobra.Command{
		Use:   "output",
		Short: "Print the provisioned host",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := f.provisioner(cmd.Context(), cmd.Flags(), flags)
			if err != nil {
				return err
			}
			inst, err := p.Outputs(cmd.Context())
			if err != nil {
				return err
			}
			if ipOnly {
				fmt.Fprintln(f.stdout, inst.PublicIP)
				return nil
			}
			f.printInstance(inst)
			return nil
		},
	}

	cmd.Flags().BoolVar(&ipOnly, "ip", false, "Print only the public IP")

	return cmd
}

func (f *Ferry) provisioner(ctx context.Context, fs *pflag.FlagSet, flags *provisionFlags) (*provision.Provisioner, error) {
	settings, err := loadSettings(fs, flags.configDir, provisionBindings)
	if err != nil {
		return nil, err
	}
	if err := settings.ValidateProvision(); err != nil {
		return nil, err
	}

	path, err := declarationPath(flags.configDir, settings.Provision)
	if err != nil {
		return nil, err
	}
	decl, err := provision.LoadDeclaration(path, settings.Provision.Vars())
	if err != nil {
		return nil, err
	}

	client, err := provision.NewEC2Client(ctx, provision.AWSCredentials{
		Region:  decl.Stack.Region,
		Profile: flags.profile,
	})
	if err != nil {
		return nil, err
	}

	p, err := provision.New(decl, client)
	if err != nil {
		return nil, err
	}
	p.WaitTimeout = flags.waitTimeout
	return p, nil
}

// declarationPath falls back to the only *.ferry.hcl file in dir when the
// configured path does not exist.
func declarationPath(dir string, settings config.ProvisionSettings) (string, error) {
	if _, err := os.Stat(settings.Declaration); err == nil {
		return settings.Declaration, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	found, err := utils.FindFiles(dir, utils.IsDeclarationFile)
	if err != nil {
		return "", fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("no *.ferry.hcl declaration found in %s", dir)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("found %d declarations in %s, pick one with --declaration", len(found), dir)
	}
}

func (f *Ferry) printChanges(changes []provision.Change) {
	if len(changes) == 0 {
		f.out.Success("No changes")
		return
	}
	for _, c := range changes {
		f.out.Info("  %s", c)
	}
	f.out.Success("%d change(s)", len(changes))
}

func (f *Ferry) printInstance(inst *provision.Instance) {
	if inst == nil {
		return
	}
	f.out.Table([]string{"ID", "STATE", "PUBLIC IP", "IMAGE", "TYPE", "SECURITY GROUP"}, [][]string{{
		inst.ID, inst.State, inst.PublicIP, inst.ImageID, inst.InstanceType, inst.SecurityGroupID,
	}})
}
