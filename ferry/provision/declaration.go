// Package provision declares and reconciles the single EC2 host a ferry
// stack runs on: one security group, one instance and its boot script.
package provision

import (
	"fmt"
	"os"
	"sort"

	"github.com/SoftKiwiGames/ferry/ferry/config"
	"github.com/SoftKiwiGames/ferry/ferry/image"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// Variables every declaration may reference as var.<name>.
var Variables = []string{"region", "instance_type", "key_name"}

type Declaration struct {
	Stack Stack `hcl:"stack,block"`
}

type Stack struct {
	Name          string            `hcl:"name,label" validate:"required,hostname_rfc1123"`
	Region        string            `hcl:"region" validate:"required"`
	InstanceType  string            `hcl:"instance_type" validate:"required"`
	KeyName       string            `hcl:"key_name" validate:"required"`
	Image         ImageFilter       `hcl:"image,block"`
	SecurityGroup SecurityGroupSpec `hcl:"security_group,block"`
	Container     ContainerSpec     `hcl:"container,block"`
}

// ImageFilter selects the newest AMI whose name matches NamePattern.
type ImageFilter struct {
	NamePattern  string   `hcl:"name_pattern" validate:"required"`
	Owners       []string `hcl:"owners" validate:"required,min=1"`
	Architecture string   `hcl:"architecture,optional" validate:"omitempty,oneof=x86_64 arm64"`
}

type SecurityGroupSpec struct {
	Name         string  `hcl:"name" validate:"required"`
	Description  string  `hcl:"description,optional"`
	IngressPorts []int32 `hcl:"ingress_ports,optional" validate:"dive,min=1,max=65535"`
	CIDR         string  `hcl:"cidr,optional" validate:"omitempty,cidrv4"`
}

// ContainerSpec is what the boot script starts on first boot.
type ContainerSpec struct {
	Name          string `hcl:"name,optional" validate:"required"`
	Image         string `hcl:"image" validate:"required"`
	Port          int    `hcl:"port,optional" validate:"min=1,max=65535"`
	ContainerPort int    `hcl:"container_port,optional" validate:"min=1,max=65535"`
	Restart       string `hcl:"restart,optional" validate:"oneof=no always unless-stopped on-failure"`
	// AllowMutableTag accepts tags such as latest.
	AllowMutableTag bool `hcl:"allow_mutable_tag,optional"`
}

// LoadDeclaration parses the HCL file at path with vars bound to var.*.
func LoadDeclaration(path string, vars map[string]string) (*Declaration, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read declaration: %w", err)
	}
	return ParseDeclaration(src, path, vars)
}

func ParseDeclaration(src []byte, filename string, vars map[string]string) (*Declaration, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse %s: %s", filename, diags.Error())
	}

	var decl Declaration
	if diags := gohcl.DecodeBody(file.Body, evalContext(vars), &decl); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode %s: %s", filename, diags.Error())
	}

	decl.applyDefaults()
	if err := decl.Validate(); err != nil {
		return nil, err
	}
	return &decl, nil
}

func evalContext(vars map[string]string) *hcl.EvalContext {
	values := make(map[string]cty.Value, len(vars))
	for k, v := range vars {
		values[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"var": cty.ObjectVal(values),
		},
	}
}

const (
	defaultIngressCIDR = "0.0.0.0/0"
	defaultAppPort     = 3000
)

func (d *Declaration) applyDefaults() {
	sg := &d.Stack.SecurityGroup
	if sg.CIDR == "" {
		sg.CIDR = defaultIngressCIDR
	}
	if sg.Description == "" {
		sg.Description = "ferry stack " + d.Stack.Name
	}
	if len(sg.IngressPorts) == 0 {
		sg.IngressPorts = []int32{22, defaultAppPort}
	}
	sort.Slice(sg.IngressPorts, func(i, j int) bool { return sg.IngressPorts[i] < sg.IngressPorts[j] })

	c := &d.Stack.Container
	if c.Name == "" {
		c.Name = d.Stack.Name
	}
	if c.Port == 0 {
		c.Port = defaultAppPort
	}
	if c.ContainerPort == 0 {
		c.ContainerPort = c.Port
	}
	if c.Restart == "" {
		c.Restart = "always"
	}
}

var validate = config.NewValidator()

func (d *Declaration) Validate() error {
	if err := config.Describe("stack", validate.Struct(d.Stack)); err != nil {
		return err
	}

	c := d.Stack.Container
	ref, err := image.Parse(c.Image, "")
	if err != nil {
		return err
	}
	return image.CheckTag(ref, c.AllowMutableTag)
}
