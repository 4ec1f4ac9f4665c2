// Package deploy builds the fixed four-step deployment plan: build the
// image, declare the tag, replace the remote container, verify over HTTP.
package deploy

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/SoftKiwiGames/ferry/ferry/config"
	"github.com/SoftKiwiGames/ferry/ferry/image"
	"github.com/SoftKiwiGames/ferry/ferry/inventory"
	"github.com/SoftKiwiGames/ferry/ferry/schema"
	"github.com/SoftKiwiGames/ferry/ferry/ssh"
)

const (
	PlanName = "deploy"
	Target   = "app"

	EnvTag = "TAG"

	DefaultName        = "hello"
	DefaultPort        = 3000
	DefaultVerifyPath  = "/test"
	DefaultVerifyDelay = 3 * time.Second
)

// Jobs of the generated plan, in execution order.
const (
	JobBuild     = "build"
	JobContainer = "container"
	JobVerify    = "verify"
)

type Options struct {
	Image           string   `mapstructure:"image" validate:"required"`
	Tag             string   `mapstructure:"tag" validate:"required"`
	Name            string   `mapstructure:"name" validate:"required"`
	Port            int      `mapstructure:"port" validate:"min=1,max=65535"`
	ContainerPort   int      `mapstructure:"container_port" validate:"min=1,max=65535"`
	Restart         string   `mapstructure:"restart" validate:"required"`
	Platforms       []string `mapstructure:"platforms" validate:"dive,required"`
	Context         string
	Dockerfile      string
	Sudo            bool
	SkipBuild       bool
	AllowMutableTag bool

	Host        ssh.Host
	VerifyPath  string `mapstructure:"verify_path" validate:"startswith=/"`
	VerifyDelay time.Duration
}

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.Name == "" {
		o.Name = DefaultName
	}
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.ContainerPort == 0 {
		o.ContainerPort = o.Port
	}
	if o.Restart == "" {
		o.Restart = "always"
	}
	if o.Context == "" {
		o.Context = "."
	}
	if o.VerifyPath == "" {
		o.VerifyPath = DefaultVerifyPath
	}
	if o.VerifyDelay == 0 {
		o.VerifyDelay = DefaultVerifyDelay
	}
	if o.Host.Name == "" {
		o.Host.Name = o.Host.IP()
	}
	return o
}

var validate = config.NewValidator()

// Validate checks the options and the tag policy. It is the "declare tag"
// step: nothing runs with a tag the policy rejects.
func (o Options) Validate() error {
	if err := config.Describe("deploy", validate.Struct(o)); err != nil {
		return err
	}
	if o.Host.Address == "" {
		return fmt.Errorf("deploy: host address is required")
	}

	ref, err := image.Parse(o.Image, o.Tag)
	if err != nil {
		return err
	}
	return image.CheckTag(ref, o.AllowMutableTag)
}

// Plan is a ready-to-run deployment.
type Plan struct {
	File      *schema.File
	Inventory inventory.Inventory
}

// Build returns the deployment plan for o. The tag travels as plan env so
// every step sees the same value.
func Build(o Options) (*Plan, error) {
	o = o.WithDefaults()
	if err := o.Validate(); err != nil {
		return nil, err
	}

	tagRef := "${" + EnvTag + "}"
	required := map[string]*string{EnvTag: nil}

	jobs := map[string]schema.Job{
		JobContainer: {
			Env: required,
			Actions: []schema.Action{{
				Name: "replace container",
				Container: &schema.ActionContainer{
					Name:            o.Name,
					Image:           o.Image,
					Tag:             tagRef,
					Ports:           []string{fmt.Sprintf("%d:%d", o.Port, o.ContainerPort)},
					Restart:         o.Restart,
					Sudo:            o.Sudo,
					AllowMutableTag: o.AllowMutableTag,
				},
			}},
		},
		JobVerify: {
			Actions: []schema.Action{{
				Name: "verify",
				Verify: &schema.ActionVerify{
					URL:       "http://" + net.JoinHostPort(o.Host.IP(), strconv.Itoa(o.Port)) + o.VerifyPath,
					Status:    200,
					JSONKeys:  []string{"message", "version"},
					ExactKeys: true,
					Delay:     o.VerifyDelay.String(),
				},
			}},
		},
	}

	var steps []schema.Step
	if !o.SkipBuild {
		jobs[JobBuild] = schema.Job{
			Local: true,
			Env:   required,
			Actions: []schema.Action{{
				Name: "build image",
				Build: &schema.ActionBuild{
					Image:           o.Image,
					Tag:             tagRef,
					Context:         o.Context,
					Dockerfile:      o.Dockerfile,
					Platforms:       o.Platforms,
					AllowMutableTag: o.AllowMutableTag,
				},
			}},
		}
		steps = append(steps, schema.Step{Name: "Build and push image", Job: JobBuild})
	}

	steps = append(steps,
		schema.Step{Name: "Replace container", Job: JobContainer, Targets: []string{Target}, Parallelism: "1"},
		schema.Step{Name: "Verify", Job: JobVerify, Targets: []string{Target}, Parallelism: "1"},
	)

	return &Plan{
		File: &schema.File{
			Jobs: jobs,
			Plans: map[string]schema.Plan{
				PlanName: {
					Env:   map[string]string{EnvTag: o.Tag},
					Steps: steps,
				},
			},
		},
		Inventory: inventory.Static(Target, o.Host),
	}, nil
}
