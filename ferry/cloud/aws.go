package cloud

import (
	"context"
	"fmt"
	"net"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// AWSInstances lists every instance in the client's region, terminated
// ones included.
func AWSInstances(ctx context.Context, client ec2.DescribeInstancesAPIClient) ([]CloudInstance, error) {
	var instances []CloudInstance

	paginator := ec2.NewDescribeInstancesPaginator(client, &ec2.DescribeInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("aws: failed to describe instances: %w", err)
		}
		for _, r := range page.Reservations {
			for _, inst := range r.Instances {
				instances = append(instances, fromEC2(inst))
			}
		}
	}

	sortByName(instances)
	return instances, nil
}

func fromEC2(inst ec2types.Instance) CloudInstance {
	out := CloudInstance{
		ID:   aws.ToString(inst.InstanceId),
		Tags: make(map[string]string, len(inst.Tags)),
	}
	for _, t := range inst.Tags {
		out.Tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	out.Name = out.Tags["Name"]

	if inst.State != nil {
		out.State = string(inst.State.Name)
	}
	if ip := net.ParseIP(aws.ToString(inst.PublicIpAddress)); ip != nil {
		out.PublicIPv4 = ip
	}
	if ip := net.ParseIP(aws.ToString(inst.Ipv6Address)); ip != nil {
		out.PublicIPv6 = ip
	}
	return out
}
