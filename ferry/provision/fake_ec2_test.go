package provision

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// fakeEC2 keeps just enough state to reconcile one stack.
type fakeEC2 struct {
	mu sync.Mutex

	images    []ec2types.Image
	groups    []ec2types.SecurityGroup
	instances []ec2types.Instance

	calls  []string
	nextID int

	runErr error
}

func newFakeEC2(images ...ec2types.Image) *fakeEC2 {
	return &fakeEC2{images: images}
}

func testImage(id, created string) ec2types.Image {
	return ec2types.Image{
		ImageId:      aws.String(id),
		Name:         aws.String("ubuntu-" + id),
		CreationDate: aws.String(created),
	}
}

func (f *fakeEC2) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeEC2) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeEC2) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%04d", prefix, f.nextID)
}

func filterValues(filters []ec2types.Filter, name string) []string {
	for _, filter := range filters {
		if aws.ToString(filter.Name) == name {
			return filter.Values
		}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func (f *fakeEC2) DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DescribeImages")
	return &ec2.DescribeImagesOutput{Images: append([]ec2types.Image(nil), f.images...)}, nil
}

func (f *fakeEC2) DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DescribeSecurityGroups")

	names := filterValues(params.Filters, "group-name")
	var out []ec2types.SecurityGroup
	for _, g := range f.groups {
		if names == nil || contains(names, aws.ToString(g.GroupName)) {
			out = append(out, g)
		}
	}
	return &ec2.DescribeSecurityGroupsOutput{SecurityGroups: out}, nil
}

func (f *fakeEC2) CreateSecurityGroup(ctx context.Context, params *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateSecurityGroup")

	for _, g := range f.groups {
		if aws.ToString(g.GroupName) == aws.ToString(params.GroupName) {
			return nil, fmt.Errorf("InvalidGroup.Duplicate: %s", aws.ToString(params.GroupName))
		}
	}
	id := f.id("sg")
	f.groups = append(f.groups, ec2types.SecurityGroup{
		GroupId:     aws.String(id),
		GroupName:   params.GroupName,
		Description: params.Description,
		Tags:        params.TagSpecifications[0].Tags,
	})
	return &ec2.CreateSecurityGroupOutput{GroupId: aws.String(id)}, nil
}

func (f *fakeEC2) AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AuthorizeSecurityGroupIngress")

	for i := range f.groups {
		if aws.ToString(f.groups[i].GroupId) == aws.ToString(params.GroupId) {
			f.groups[i].IpPermissions = append(f.groups[i].IpPermissions, params.IpPermissions...)
			return &ec2.AuthorizeSecurityGroupIngressOutput{}, nil
		}
	}
	return nil, fmt.Errorf("InvalidGroup.NotFound: %s", aws.ToString(params.GroupId))
}

func (f *fakeEC2) DeleteSecurityGroup(ctx context.Context, params *ec2.DeleteSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteSecurityGroup")

	for i, g := range f.groups {
		if aws.ToString(g.GroupId) == aws.ToString(params.GroupId) {
			f.groups = append(f.groups[:i], f.groups[i+1:]...)
			return &ec2.DeleteSecurityGroupOutput{}, nil
		}
	}
	return nil, fmt.Errorf("InvalidGroup.NotFound: %s", aws.ToString(params.GroupId))
}

func (f *fakeEC2) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DescribeInstances")

	stacks := filterValues(params.Filters, "tag:"+TagStack)
	states := filterValues(params.Filters, "instance-state-name")

	var matched []ec2types.Instance
	for _, inst := range f.instances {
		if len(params.InstanceIds) > 0 && !contains(params.InstanceIds, aws.ToString(inst.InstanceId)) {
			continue
		}
		if stacks != nil && !contains(stacks, tagValue(inst.Tags, TagStack)) {
			continue
		}
		if states != nil && !contains(states, string(inst.State.Name)) {
			continue
		}
		matched = append(matched, inst)
	}

	out := &ec2.DescribeInstancesOutput{}
	if len(matched) > 0 {
		out.Reservations = []ec2types.Reservation{{Instances: matched}}
	}
	return out, nil
}

func (f *fakeEC2) RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RunInstances")

	if f.runErr != nil {
		return nil, f.runErr
	}

	id := f.id("i")
	inst := ec2types.Instance{
		InstanceId:      aws.String(id),
		ImageId:         params.ImageId,
		InstanceType:    params.InstanceType,
		KeyName:         params.KeyName,
		PublicIpAddress: aws.String(fmt.Sprintf("203.0.113.%d", f.nextID)),
		State:           &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
		Tags:            params.TagSpecifications[0].Tags,
	}
	for _, g := range params.SecurityGroupIds {
		inst.SecurityGroups = append(inst.SecurityGroups, ec2types.GroupIdentifier{GroupId: aws.String(g)})
	}
	f.instances = append(f.instances, inst)

	pending := inst
	pending.State = &ec2types.InstanceState{Name: ec2types.InstanceStateNamePending}
	pending.PublicIpAddress = nil
	return &ec2.RunInstancesOutput{Instances: []ec2types.Instance{pending}}, nil
}

func (f *fakeEC2) TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("TerminateInstances")

	for i := range f.instances {
		if contains(params.InstanceIds, aws.ToString(f.instances[i].InstanceId)) {
			f.instances[i].State = &ec2types.InstanceState{Name: ec2types.InstanceStateNameTerminated}
			f.instances[i].PublicIpAddress = nil
		}
	}
	return &ec2.TerminateInstancesOutput{}, nil
}

// live returns the instances that are not terminated.
func (f *fakeEC2) live() []ec2types.Instance {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ec2types.Instance
	for _, inst := range f.instances {
		if inst.State.Name != ec2types.InstanceStateNameTerminated {
			out = append(out, inst)
		}
	}
	return out
}

func tagValue(tags []ec2types.Tag, key string) string {
	for _, t := range tags {
		if aws.ToString(t.Key) == key {
			return aws.ToString(t.Value)
		}
	}
	return ""
}
