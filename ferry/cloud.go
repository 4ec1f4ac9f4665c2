package ferry

import (
	"fmt"
	"os"

	"github.com/SoftKiwiGames/ferry/ferry/cloud"
	"github.com/SoftKiwiGames/ferry/ferry/provision"
	"github.com/spf13/cobra"
)

func (f *Ferry) buildCloudCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cloud [provider]",
		Short: "Interact with cloud providers",
	}

	cmd.AddCommand(f.buildCloudAWSCommand(), f.buildCloudHetznerCommand())

	return cmd
}

func (f *Ferry) buildCloudAWSCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aws",
		Short: "Amazon EC2",
	}

	var region, profile string

	hosts := &cobra.Command{
		Use:   "hosts",
		Short: "List EC2 instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			if region == "" {
				region = os.Getenv("AWS_REGION")
			}
			if region == "" {
				return fmt.Errorf("region is required (use --region or AWS_REGION)")
			}

			client, err := provision.NewEC2Client(cmd.Context(), provision.AWSCredentials{
				Region:  region,
				Profile: profile,
			})
			if err != nil {
				return err
			}

			instances, err := cloud.AWSInstances(cmd.Context(), client)
			if err != nil {
				return err
			}

			f.printInstances(instances)
			return nil
		},
	}

	hosts.Flags().StringVar(&region, "region", "", "AWS region (default: AWS_REGION)")
	hosts.Flags().StringVar(&profile, "profile", "", "AWS shared config profile")

	cmd.AddCommand(hosts)
	return cmd
}

func (f *Ferry) buildCloudHetznerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hetzner",
		Short: "Hetzner Cloud",
	}

	var token string

	hosts := &cobra.Command{
		Use:   "hosts",
		Short: "List cloud instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv("HCLOUD_TOKEN")
			}
			if token == "" {
				return fmt.Errorf("token is required (use --token or HCLOUD_TOKEN)")
			}

			instances, err := cloud.HetznerInstances(cmd.Context(), cloud.HetznerConfig{Token: token})
			if err != nil {
				return err
			}

			f.printInstances(instances)
			return nil
		},
	}

	hosts.Flags().StringVar(&token, "token", "", "Hetzner Cloud API token (default: HCLOUD_TOKEN)")

	cmd.AddCommand(hosts)
	return cmd
}

func (f *Ferry) printInstances(instances []cloud.CloudInstance) {
	if len(instances) == 0 {
		fmt.Fprintln(f.stdout, "No instances found.")
		return
	}

	rows := make([][]string, len(instances))
	for i, inst := range instances {
		rows[i] = inst.Row()
	}
	f.out.Table(cloud.Header, rows)
}
