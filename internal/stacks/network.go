package stacks

import (
	"fmt"
	"sort"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// network is the existing VPC the platform is deployed into.
type network struct {
	VpcID     string
	CidrBlock string
	// PrivateSubnets holds at least two subnet ids, sorted.
	PrivateSubnets []string
}

// subnetIDs returns the private subnets as a Pulumi array.
func (n network) subnetIDs() pulumi.StringArray {
	out := make(pulumi.StringArray, 0, len(n.PrivateSubnets))
	for _, id := range n.PrivateSubnets {
		out = append(out, pulumi.String(id))
	}
	return out
}

// lookupNetwork finds the VPC tagged Name=vpcName and its private subnets
// (subnets that do not map public IPs on launch).
func lookupNetwork(ctx *pulumi.Context, vpcName string) (network, error) {
	vpc, err := ec2.LookupVpc(ctx, &ec2.LookupVpcArgs{
		Tags: map[string]string{"Name": vpcName},
	})
	if err != nil {
		return network{}, fmt.Errorf("lookup vpc %q: %w", vpcName, err)
	}

	subnets, err := ec2.GetSubnets(ctx, &ec2.GetSubnetsArgs{
		Filters: []ec2.GetSubnetsFilter{
			{Name: "vpc-id", Values: []string{vpc.Id}},
			{Name: "map-public-ip-on-launch", Values: []string{"false"}},
		},
	})
	if err != nil {
		return network{}, fmt.Errorf("lookup private subnets of %s: %w", vpc.Id, err)
	}
	if len(subnets.Ids) < 2 {
		return network{}, fmt.Errorf("vpc %q has %d private subnets, need at least 2", vpcName, len(subnets.Ids))
	}

	ids := append([]string(nil), subnets.Ids...)
	sort.Strings(ids)
	return network{VpcID: vpc.Id, CidrBlock: vpc.CidrBlock, PrivateSubnets: ids}, nil
}

// allEgress allows all outbound traffic.
var allEgress = ec2.SecurityGroupEgressArray{
	ec2.SecurityGroupEgressArgs{
		Protocol:   pulumi.String("-1"),
		FromPort:   pulumi.Int(0),
		ToPort:     pulumi.Int(0),
		CidrBlocks: pulumi.StringArray{pulumi.String("0.0.0.0/0")},
	},
}

// tcpFromCidr opens a TCP port to a CIDR block.
func tcpFromCidr(port int, cidr string) ec2.SecurityGroupIngressArgs {
	return ec2.SecurityGroupIngressArgs{
		Protocol:   pulumi.String("tcp"),
		FromPort:   pulumi.Int(port),
		ToPort:     pulumi.Int(port),
		CidrBlocks: pulumi.StringArray{pulumi.String(cidr)},
	}
}

// tcpFromGroups opens a TCP port to members of the given security groups.
func tcpFromGroups(port int, groups ...pulumi.StringInput) ec2.SecurityGroupIngressArgs {
	return ec2.SecurityGroupIngressArgs{
		Protocol:       pulumi.String("tcp"),
		FromPort:       pulumi.Int(port),
		ToPort:         pulumi.Int(port),
		SecurityGroups: pulumi.StringArray(groups),
	}
}
