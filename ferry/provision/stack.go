package provision

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// Tags carrying the identity of provisioned resources.
const (
	TagName       = "Name"
	TagStack      = "ferry:stack"
	TagBootDigest = "ferry:boot-sha256"
)

const DefaultWaitTimeout = 10 * time.Minute

var (
	ErrNoImage        = errors.New("no image matches the filter")
	ErrNotProvisioned = errors.New("stack is not provisioned")
)

// Instance is the provisioned host as seen by EC2.
type Instance struct {
	ID              string
	ImageID         string
	InstanceType    string
	KeyName         string
	SecurityGroupID string
	BootDigest      string
	PublicIP        string
	State           string
}

type ChangeKind string

const (
	ChangeCreate    ChangeKind = "create"
	ChangeAuthorize ChangeKind = "authorize"
	ChangeReplace   ChangeKind = "replace"
	ChangeDelete    ChangeKind = "delete"
)

type Change struct {
	Kind     ChangeKind
	Resource string
	Detail   string
}

func (c Change) String() string {
	if c.Detail == "" {
		return fmt.Sprintf("%s %s", c.Kind, c.Resource)
	}
	return fmt.Sprintf("%s %s (%s)", c.Kind, c.Resource, c.Detail)
}

type Result struct {
	Instance *Instance
	Changes  []Change
}

// Provisioner reconciles one declared stack against EC2.
type Provisioner struct {
	stack  Stack
	boot   *BootScript
	client EC2API

	WaitTimeout time.Duration
}

func New(decl *Declaration, client EC2API) (*Provisioner, error) {
	boot, err := RenderBootScript(decl.Stack.Container)
	if err != nil {
		return nil, err
	}
	return &Provisioner{
		stack:       decl.Stack,
		boot:        boot,
		client:      client,
		WaitTimeout: DefaultWaitTimeout,
	}, nil
}

func (p *Provisioner) Boot() *BootScript {
	return p.boot
}

// ResolveImage returns the newest available AMI matching the image filter.
func (p *Provisioner) ResolveImage(ctx context.Context) (*ec2types.Image, error) {
	f := p.stack.Image
	filters := []ec2types.Filter{
		{Name: aws.String("name"), Values: []string{f.NamePattern}},
		{Name: aws.String("state"), Values: []string{"available"}},
	}
	if f.Architecture != "" {
		filters = append(filters, ec2types.Filter{Name: aws.String("architecture"), Values: []string{f.Architecture}})
	}

	out, err := p.client.DescribeImages(ctx, &ec2.DescribeImagesInput{
		Owners:  f.Owners,
		Filters: filters,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe images: %w", err)
	}
	if len(out.Images) == 0 {
		return nil, fmt.Errorf("%w: name=%s owners=%s", ErrNoImage, f.NamePattern, strings.Join(f.Owners, ","))
	}

	images := out.Images
	// CreationDate is ISO 8601, so lexical order is chronological.
	sort.Slice(images, func(i, j int) bool {
		return aws.ToString(images[i].CreationDate) > aws.ToString(images[j].CreationDate)
	})
	return &images[0], nil
}

// Apply creates or replaces whatever differs from the declaration and
// returns the running instance.
func (p *Provisioner) Apply(ctx context.Context) (*Result, error) {
	return p.reconcile(ctx, false)
}

// Plan reports the changes Apply would make without making them.
func (p *Provisioner) Plan(ctx context.Context) (*Result, error) {
	return p.reconcile(ctx, true)
}

func (p *Provisioner) reconcile(ctx context.Context, dryRun bool) (*Result, error) {
	img, err := p.ResolveImage(ctx)
	if err != nil {
		return nil, err
	}
	imageID := aws.ToString(img.ImageId)

	result := &Result{}

	sgID, changes, err := p.ensureSecurityGroup(ctx, dryRun)
	if err != nil {
		return nil, err
	}
	result.Changes = append(result.Changes, changes...)

	current, err := p.findInstance(ctx)
	if err != nil {
		return nil, err
	}

	if current != nil {
		reasons := p.replaceReasons(current, imageID)
		if len(reasons) == 0 {
			result.Instance = current
			return result, nil
		}

		result.Changes = append(result.Changes, Change{
			Kind:     ChangeReplace,
			Resource: "instance " + current.ID,
			Detail:   strings.Join(reasons, ", "),
		})
		if !dryRun {
			if err := p.terminate(ctx, current.ID); err != nil {
				return nil, err
			}
		}
	} else {
		result.Changes = append(result.Changes, Change{
			Kind:     ChangeCreate,
			Resource: "instance " + p.stack.Name,
			Detail:   fmt.Sprintf("%s %s", p.stack.InstanceType, imageID),
		})
	}

	if dryRun {
		return result, nil
	}

	inst, err := p.runInstance(ctx, imageID, sgID)
	if err != nil {
		return nil, err
	}
	result.Instance = inst
	return result, nil
}

func (p *Provisioner) replaceReasons(current *Instance, imageID string) []string {
	var reasons []string
	if current.ImageID != imageID {
		reasons = append(reasons, fmt.Sprintf("image %s -> %s", current.ImageID, imageID))
	}
	if current.BootDigest != p.boot.Digest {
		reasons = append(reasons, "boot script changed")
	}
	if current.InstanceType != p.stack.InstanceType {
		reasons = append(reasons, fmt.Sprintf("instance type %s -> %s", current.InstanceType, p.stack.InstanceType))
	}
	if current.KeyName != p.stack.KeyName {
		reasons = append(reasons, fmt.Sprintf("key %s -> %s", current.KeyName, p.stack.KeyName))
	}
	return reasons
}

// Destroy terminates the stack's instance and deletes its security group.
func (p *Provisioner) Destroy(ctx context.Context) (*Result, error) {
	result := &Result{}

	current, err := p.findInstance(ctx)
	if err != nil {
		return nil, err
	}
	if current != nil {
		if err := p.terminate(ctx, current.ID); err != nil {
			return nil, err
		}
		result.Changes = append(result.Changes, Change{Kind: ChangeDelete, Resource: "instance " + current.ID})
	}

	sg, err := p.findSecurityGroup(ctx)
	if err != nil {
		return nil, err
	}
	if sg != nil {
		groupID := aws.ToString(sg.GroupId)
		if _, err := p.client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: sg.GroupId}); err != nil {
			return nil, fmt.Errorf("failed to delete security group %s: %w", groupID, err)
		}
		result.Changes = append(result.Changes, Change{Kind: ChangeDelete, Resource: "security group " + groupID})
	}

	return result, nil
}

// Outputs returns the current instance or ErrNotProvisioned.
func (p *Provisioner) Outputs(ctx context.Context) (*Instance, error) {
	inst, err := p.findInstance(ctx)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotProvisioned, p.stack.Name)
	}
	return inst, nil
}

func (p *Provisioner) findSecurityGroup(ctx context.Context) (*ec2types.SecurityGroup, error) {
	out, err := p.client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("group-name"), Values: []string{p.stack.SecurityGroup.Name}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe security groups: %w", err)
	}
	if len(out.SecurityGroups) == 0 {
		return nil, nil
	}
	return &out.SecurityGroups[0], nil
}

func (p *Provisioner) ensureSecurityGroup(ctx context.Context, dryRun bool) (string, []Change, error) {
	spec := p.stack.SecurityGroup
	var changes []Change

	sg, err := p.findSecurityGroup(ctx)
	if err != nil {
		return "", nil, err
	}

	var groupID string
	var existing []ec2types.IpPermission
	if sg == nil {
		changes = append(changes, Change{Kind: ChangeCreate, Resource: "security group " + spec.Name})
		if !dryRun {
			out, err := p.client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
				GroupName:   aws.String(spec.Name),
				Description: aws.String(spec.Description),
				TagSpecifications: []ec2types.TagSpecification{{
					ResourceType: ec2types.ResourceTypeSecurityGroup,
					Tags:         p.tags(false),
				}},
			})
			if err != nil {
				return "", nil, fmt.Errorf("failed to create security group %s: %w", spec.Name, err)
			}
			groupID = aws.ToString(out.GroupId)
		}
	} else {
		groupID = aws.ToString(sg.GroupId)
		existing = sg.IpPermissions
	}

	var missing []ec2types.IpPermission
	for _, port := range spec.IngressPorts {
		if allowsPort(existing, port, spec.CIDR) {
			continue
		}
		changes = append(changes, Change{
			Kind:     ChangeAuthorize,
			Resource: "security group " + spec.Name,
			Detail:   fmt.Sprintf("tcp/%d from %s", port, spec.CIDR),
		})
		missing = append(missing, ec2types.IpPermission{
			IpProtocol: aws.String("tcp"),
			FromPort:   aws.Int32(port),
			ToPort:     aws.Int32(port),
			IpRanges:   []ec2types.IpRange{{CidrIp: aws.String(spec.CIDR)}},
		})
	}

	if len(missing) > 0 && !dryRun {
		_, err := p.client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       aws.String(groupID),
			IpPermissions: missing,
		})
		if err != nil {
			return "", nil, fmt.Errorf("failed to authorize ingress on %s: %w", groupID, err)
		}
	}

	return groupID, changes, nil
}

func allowsPort(perms []ec2types.IpPermission, port int32, cidr string) bool {
	for _, perm := range perms {
		proto := aws.ToString(perm.IpProtocol)
		if proto != "tcp" && proto != "-1" {
			continue
		}
		if proto == "tcp" && (aws.ToInt32(perm.FromPort) > port || aws.ToInt32(perm.ToPort) < port) {
			continue
		}
		for _, r := range perm.IpRanges {
			if aws.ToString(r.CidrIp) == cidr {
				return true
			}
		}
	}
	return false
}

var liveStates = []string{
	string(ec2types.InstanceStateNamePending),
	string(ec2types.InstanceStateNameRunning),
	string(ec2types.InstanceStateNameStopping),
	string(ec2types.InstanceStateNameStopped),
}

func (p *Provisioner) findInstance(ctx context.Context) (*Instance, error) {
	out, err := p.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:" + TagStack), Values: []string{p.stack.Name}},
			{Name: aws.String("instance-state-name"), Values: liveStates},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe instances: %w", err)
	}

	var found []ec2types.Instance
	for _, r := range out.Reservations {
		found = append(found, r.Instances...)
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return toInstance(found[0]), nil
	default:
		ids := make([]string, len(found))
		for i, inst := range found {
			ids[i] = aws.ToString(inst.InstanceId)
		}
		return nil, fmt.Errorf("stack %s has %d instances (%s), expected one", p.stack.Name, len(found), strings.Join(ids, ", "))
	}
}

func (p *Provisioner) runInstance(ctx context.Context, imageID, groupID string) (*Instance, error) {
	out, err := p.client.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:          aws.String(imageID),
		InstanceType:     ec2types.InstanceType(p.stack.InstanceType),
		KeyName:          aws.String(p.stack.KeyName),
		MinCount:         aws.Int32(1),
		MaxCount:         aws.Int32(1),
		SecurityGroupIds: []string{groupID},
		UserData:         aws.String(p.boot.UserData()),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeInstance,
			Tags:         p.tags(true),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run instance: %w", err)
	}
	if len(out.Instances) == 0 {
		return nil, fmt.Errorf("run instances returned no instance")
	}
	id := aws.ToString(out.Instances[0].InstanceId)

	waiter := ec2.NewInstanceRunningWaiter(p.client)
	described, err := waiter.WaitForOutput(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}}, p.waitTimeout())
	if err != nil {
		return nil, fmt.Errorf("instance %s did not reach running: %w", id, err)
	}
	for _, r := range described.Reservations {
		for _, inst := range r.Instances {
			if aws.ToString(inst.InstanceId) == id {
				return toInstance(inst), nil
			}
		}
	}
	return nil, fmt.Errorf("instance %s disappeared after start", id)
}

func (p *Provisioner) terminate(ctx context.Context, id string) error {
	if _, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{id}}); err != nil {
		return fmt.Errorf("failed to terminate instance %s: %w", id, err)
	}
	waiter := ec2.NewInstanceTerminatedWaiter(p.client)
	if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}}, p.waitTimeout()); err != nil {
		return fmt.Errorf("instance %s did not terminate: %w", id, err)
	}
	return nil
}

func (p *Provisioner) waitTimeout() time.Duration {
	if p.WaitTimeout <= 0 {
		return DefaultWaitTimeout
	}
	return p.WaitTimeout
}

func (p *Provisioner) tags(withBoot bool) []ec2types.Tag {
	tags := []ec2types.Tag{
		{Key: aws.String(TagName), Value: aws.String(p.stack.Name)},
		{Key: aws.String(TagStack), Value: aws.String(p.stack.Name)},
	}
	if withBoot {
		tags = append(tags, ec2types.Tag{Key: aws.String(TagBootDigest), Value: aws.String(p.boot.Digest)})
	}
	return tags
}

func toInstance(inst ec2types.Instance) *Instance {
	out := &Instance{
		ID:           aws.ToString(inst.InstanceId),
		ImageID:      aws.ToString(inst.ImageId),
		InstanceType: string(inst.InstanceType),
		KeyName:      aws.ToString(inst.KeyName),
		PublicIP:     aws.ToString(inst.PublicIpAddress),
	}
	if inst.State != nil {
		out.State = string(inst.State.Name)
	}
	if len(inst.SecurityGroups) > 0 {
		out.SecurityGroupID = aws.ToString(inst.SecurityGroups[0].GroupId)
	}
	for _, tag := range inst.Tags {
		if aws.ToString(tag.Key) == TagBootDigest {
			out.BootDigest = aws.ToString(tag.Value)
		}
	}
	return out
}
