package provision

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

func testDeclaration(t *testing.T, image string) *Declaration {
	t.Helper()
	src := `
stack "hello" {
  region        = "eu-central-1"
  instance_type = "t3.micro"
  key_name      = "deploy"

  image {
    name_pattern = "ubuntu/images/*"
    owners       = ["099720109477"]
  }

  security_group {
    name = "hello-sg"
  }

  container {
    image = "` + image + `"
  }
}
`
	decl, err := ParseDeclaration([]byte(src), "test.ferry.hcl", nil)
	if err != nil {
		t.Fatalf("ParseDeclaration() error = %v", err)
	}
	return decl
}

func newTestProvisioner(t *testing.T, decl *Declaration, client *fakeEC2) *Provisioner {
	t.Helper()
	p, err := New(decl, client)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p.WaitTimeout = time.Minute
	return p
}

func TestResolveImage_Newest(t *testing.T) {
	client := newFakeEC2(
		testImage("ami-old", "2024-01-01T00:00:00.000Z"),
		testImage("ami-new", "2025-06-01T00:00:00.000Z"),
		testImage("ami-mid", "2024-12-01T00:00:00.000Z"),
	)
	p := newTestProvisioner(t, testDeclaration(t, "user/hello:v1"), client)

	img, err := p.ResolveImage(context.Background())
	if err != nil {
		t.Fatalf("ResolveImage() error = %v", err)
	}
	if got := aws.ToString(img.ImageId); got != "ami-new" {
		t.Errorf("Expected %q, got %q", "ami-new", got)
	}
}

func TestApply_NoImageCreatesNothing(t *testing.T) {
	client := newFakeEC2()
	p := newTestProvisioner(t, testDeclaration(t, "user/hello:v1"), client)

	_, err := p.Apply(context.Background())
	if !errors.Is(err, ErrNoImage) {
		t.Fatalf("Expected ErrNoImage, got %v", err)
	}
	if client.count("CreateSecurityGroup") != 0 || client.count("RunInstances") != 0 {
		t.Errorf("Expected no resources to be created, calls: %v", client.calls)
	}
}

func TestApply_CreatesStack(t *testing.T) {
	client := newFakeEC2(testImage("ami-1", "2025-01-01T00:00:00.000Z"))
	p := newTestProvisioner(t, testDeclaration(t, "user/hello:v1"), client)

	result, err := p.Apply(context.Background())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	inst := result.Instance
	if inst == nil {
		t.Fatal("Expected an instance")
	}
	if inst.State != "running" {
		t.Errorf("Expected running, got %q", inst.State)
	}
	if inst.PublicIP == "" {
		t.Error("Expected a public IP")
	}
	if inst.ImageID != "ami-1" {
		t.Errorf("Expected %q, got %q", "ami-1", inst.ImageID)
	}
	if inst.BootDigest != p.Boot().Digest {
		t.Errorf("Expected boot digest %q, got %q", p.Boot().Digest, inst.BootDigest)
	}

	if len(client.groups) != 1 {
		t.Fatalf("Expected 1 security group, got %d", len(client.groups))
	}
	sg := client.groups[0]
	for _, port := range []int32{22, 3000} {
		if !allowsPort(sg.IpPermissions, port, "0.0.0.0/0") {
			t.Errorf("Expected port %d to be open", port)
		}
	}
	if inst.SecurityGroupID != aws.ToString(sg.GroupId) {
		t.Errorf("Expected instance in %s, got %s", aws.ToString(sg.GroupId), inst.SecurityGroupID)
	}

	live := client.live()
	if len(live) != 1 {
		t.Fatalf("Expected 1 instance, got %d", len(live))
	}
	if got := tagValue(live[0].Tags, TagStack); got != "hello" {
		t.Errorf("Expected stack tag %q, got %q", "hello", got)
	}
	if got := tagValue(live[0].Tags, TagName); got != "hello" {
		t.Errorf("Expected Name tag %q, got %q", "hello", got)
	}

	kinds := make([]string, len(result.Changes))
	for i, c := range result.Changes {
		kinds[i] = string(c.Kind)
	}
	if got := strings.Join(kinds, ","); got != "create,authorize,authorize,create" {
		t.Errorf("Unexpected changes %q", got)
	}
}

func TestApply_Idempotent(t *testing.T) {
	client := newFakeEC2(testImage("ami-1", "2025-01-01T00:00:00.000Z"))
	decl := testDeclaration(t, "user/hello:v1")

	first, err := newTestProvisioner(t, decl, client).Apply(context.Background())
	if err != nil {
		t.Fatalf("first Apply() error = %v", err)
	}
	second, err := newTestProvisioner(t, decl, client).Apply(context.Background())
	if err != nil {
		t.Fatalf("second Apply() error = %v", err)
	}

	if len(second.Changes) != 0 {
		t.Errorf("Expected no changes, got %v", second.Changes)
	}
	if second.Instance.ID != first.Instance.ID {
		t.Errorf("Expected instance %q to be reused, got %q", first.Instance.ID, second.Instance.ID)
	}
	if n := client.count("RunInstances"); n != 1 {
		t.Errorf("Expected 1 RunInstances call, got %d", n)
	}
	if n := client.count("CreateSecurityGroup"); n != 1 {
		t.Errorf("Expected 1 CreateSecurityGroup call, got %d", n)
	}
	if n := client.count("AuthorizeSecurityGroupIngress"); n != 1 {
		t.Errorf("Expected 1 AuthorizeSecurityGroupIngress call, got %d", n)
	}
}

func TestApply_AuthorizesOnlyMissingPorts(t *testing.T) {
	client := newFakeEC2(testImage("ami-1", "2025-01-01T00:00:00.000Z"))
	client.groups = []ec2types.SecurityGroup{{
		GroupId:   aws.String("sg-existing"),
		GroupName: aws.String("hello-sg"),
		IpPermissions: []ec2types.IpPermission{{
			IpProtocol: aws.String("tcp"),
			FromPort:   aws.Int32(22),
			ToPort:     aws.Int32(22),
			IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
		}},
	}}
	p := newTestProvisioner(t, testDeclaration(t, "user/hello:v1"), client)

	result, err := p.Apply(context.Background())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if client.count("CreateSecurityGroup") != 0 {
		t.Error("Expected existing group to be reused")
	}
	perms := client.groups[0].IpPermissions
	if len(perms) != 2 {
		t.Fatalf("Expected 2 permissions, got %d", len(perms))
	}
	if got := aws.ToInt32(perms[1].FromPort); got != 3000 {
		t.Errorf("Expected port 3000 to be added, got %d", got)
	}
	if result.Instance.SecurityGroupID != "sg-existing" {
		t.Errorf("Expected %q, got %q", "sg-existing", result.Instance.SecurityGroupID)
	}
}

func TestApply_ReplacesOnChange(t *testing.T) {
	tests := []struct {
		name   string
		change func(t *testing.T, client *fakeEC2) *Declaration
		reason string
	}{
		{
			name: "new image",
			change: func(t *testing.T, client *fakeEC2) *Declaration {
				client.images = append(client.images, testImage("ami-2", "2025-02-01T00:00:00.000Z"))
				return testDeclaration(t, "user/hello:v1")
			},
			reason: "image ami-1 -> ami-2",
		},
		{
			name: "boot script",
			change: func(t *testing.T, client *fakeEC2) *Declaration {
				return testDeclaration(t, "user/hello:v2")
			},
			reason: "boot script changed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeEC2(testImage("ami-1", "2025-01-01T00:00:00.000Z"))

			first, err := newTestProvisioner(t, testDeclaration(t, "user/hello:v1"), client).Apply(context.Background())
			if err != nil {
				t.Fatalf("first Apply() error = %v", err)
			}

			decl := tt.change(t, client)
			second, err := newTestProvisioner(t, decl, client).Apply(context.Background())
			if err != nil {
				t.Fatalf("second Apply() error = %v", err)
			}

			if second.Instance.ID == first.Instance.ID {
				t.Error("Expected a new instance")
			}
			if len(second.Changes) != 1 || second.Changes[0].Kind != ChangeReplace {
				t.Fatalf("Expected a single replace, got %v", second.Changes)
			}
			if !strings.Contains(second.Changes[0].Detail, tt.reason) {
				t.Errorf("Expected reason %q, got %q", tt.reason, second.Changes[0].Detail)
			}
			if live := client.live(); len(live) != 1 {
				t.Errorf("Expected exactly 1 live instance, got %d", len(live))
			}
		})
	}
}

func TestPlan_MakesNoChanges(t *testing.T) {
	client := newFakeEC2(testImage("ami-1", "2025-01-01T00:00:00.000Z"))
	p := newTestProvisioner(t, testDeclaration(t, "user/hello:v1"), client)

	result, err := p.Plan(context.Background())
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	if len(result.Changes) != 4 {
		t.Errorf("Expected 4 planned changes, got %v", result.Changes)
	}
	if result.Instance != nil {
		t.Errorf("Expected no instance, got %+v", result.Instance)
	}
	for _, call := range []string{"CreateSecurityGroup", "AuthorizeSecurityGroupIngress", "RunInstances", "TerminateInstances"} {
		if n := client.count(call); n != 0 {
			t.Errorf("Expected no %s calls, got %d", call, n)
		}
	}
}

func TestDestroy(t *testing.T) {
	client := newFakeEC2(testImage("ami-1", "2025-01-01T00:00:00.000Z"))
	p := newTestProvisioner(t, testDeclaration(t, "user/hello:v1"), client)

	if _, err := p.Apply(context.Background()); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	result, err := p.Destroy(context.Background())
	if err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if len(result.Changes) != 2 {
		t.Errorf("Expected 2 deletions, got %v", result.Changes)
	}
	if live := client.live(); len(live) != 0 {
		t.Errorf("Expected no live instances, got %d", len(live))
	}
	if len(client.groups) != 0 {
		t.Errorf("Expected security group to be deleted, got %d", len(client.groups))
	}

	again, err := p.Destroy(context.Background())
	if err != nil {
		t.Fatalf("second Destroy() error = %v", err)
	}
	if len(again.Changes) != 0 {
		t.Errorf("Expected nothing to destroy, got %v", again.Changes)
	}
}

func TestOutputs(t *testing.T) {
	client := newFakeEC2(testImage("ami-1", "2025-01-01T00:00:00.000Z"))
	p := newTestProvisioner(t, testDeclaration(t, "user/hello:v1"), client)

	if _, err := p.Outputs(context.Background()); !errors.Is(err, ErrNotProvisioned) {
		t.Fatalf("Expected ErrNotProvisioned, got %v", err)
	}

	applied, err := p.Apply(context.Background())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	inst, err := p.Outputs(context.Background())
	if err != nil {
		t.Fatalf("Outputs() error = %v", err)
	}
	if inst.ID != applied.Instance.ID || inst.PublicIP != applied.Instance.PublicIP {
		t.Errorf("Expected %+v, got %+v", applied.Instance, inst)
	}
}

func TestApply_RunError(t *testing.T) {
	client := newFakeEC2(testImage("ami-1", "2025-01-01T00:00:00.000Z"))
	client.runErr = errors.New("InstanceLimitExceeded")
	p := newTestProvisioner(t, testDeclaration(t, "user/hello:v1"), client)

	_, err := p.Apply(context.Background())
	if err == nil || !strings.Contains(err.Error(), "InstanceLimitExceeded") {
		t.Fatalf("Expected wrapped EC2 error, got %v", err)
	}
}

func TestChange_String(t *testing.T) {
	tests := []struct {
		change Change
		want   string
	}{
		{Change{Kind: ChangeCreate, Resource: "security group web"}, "create security group web"},
		{Change{Kind: ChangeReplace, Resource: "instance i-1", Detail: "boot script changed"}, "replace instance i-1 (boot script changed)"},
	}
	for _, tt := range tests {
		if got := tt.change.String(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}
}
