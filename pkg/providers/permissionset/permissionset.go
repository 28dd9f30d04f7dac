/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package permissionset

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssoadmin"
	"github.com/samber/lo"

	"github.com/fivexl/sso-elevator/pkg/apis"
	sdk "github.com/fivexl/sso-elevator/pkg/aws/sdk"
	listingcache "github.com/fivexl/sso-elevator/pkg/cache"
)

// Provider materializes the permission sets of an SSO instance. The full
// listing requires a describe per ARN, which is the expensive part the S3
// cache exists for.
type Provider struct {
	ssoapi      sdk.SSOAdminAPI
	listing     *listingcache.Cache
	instanceARN string
}

func NewProvider(ssoapi sdk.SSOAdminAPI, listing *listingcache.Cache, instanceARN string) *Provider {
	return &Provider{
		ssoapi:      ssoapi,
		listing:     listing,
		instanceARN: instanceARN,
	}
}

// List returns every permission set of the instance, sorted by ARN.
func (p *Provider) List(ctx context.Context) ([]apis.PermissionSet, error) {
	return listingcache.Resolve(ctx, p.listing, listingcache.PermissionSetKey(p.instanceARN), p.list)
}

func (p *Provider) list(ctx context.Context) ([]apis.PermissionSet, error) {
	var arns []string
	var nextToken *string
	for {
		out, err := p.ssoapi.ListPermissionSets(ctx, &ssoadmin.ListPermissionSetsInput{
			InstanceArn: aws.String(p.instanceARN),
			NextToken:   nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("listing permission sets, %w", err)
		}
		arns = append(arns, out.PermissionSets...)
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}

	permissionSets := make([]apis.PermissionSet, 0, len(arns))
	for _, arn := range arns {
		ps, err := p.Describe(ctx, arn)
		if err != nil {
			return nil, err
		}
		permissionSets = append(permissionSets, ps)
	}
	sort.Slice(permissionSets, func(i, j int) bool { return permissionSets[i].ARN < permissionSets[j].ARN })
	return permissionSets, nil
}

// Describe resolves a single permission set by ARN.
func (p *Provider) Describe(ctx context.Context, arn string) (apis.PermissionSet, error) {
	out, err := p.ssoapi.DescribePermissionSet(ctx, &ssoadmin.DescribePermissionSetInput{
		InstanceArn:      aws.String(p.instanceARN),
		PermissionSetArn: aws.String(arn),
	})
	if err != nil {
		return apis.PermissionSet{}, fmt.Errorf("describing permission set %q, %w", arn, err)
	}
	return apis.PermissionSet{
		Name:        aws.ToString(out.PermissionSet.Name),
		ARN:         aws.ToString(out.PermissionSet.PermissionSetArn),
		Description: aws.ToString(out.PermissionSet.Description),
	}, nil
}

// ByName finds a permission set by its human name.
func (p *Provider) ByName(ctx context.Context, name string) (apis.PermissionSet, error) {
	permissionSets, err := p.List(ctx)
	if err != nil {
		return apis.PermissionSet{}, err
	}
	ps, ok := lo.Find(permissionSets, func(ps apis.PermissionSet) bool { return ps.Name == name })
	if !ok {
		return apis.PermissionSet{}, fmt.Errorf("permission set %q not found", name)
	}
	return ps, nil
}
