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

package fake

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/organizations/types"

	sdk "github.com/fivexl/sso-elevator/pkg/aws/sdk"
)

// OrganizationsBehavior must be reset between tests otherwise tests will
// pollute each other.
type OrganizationsBehavior struct {
	ListAccountsBehavior    MockedFunction[organizations.ListAccountsInput, organizations.ListAccountsOutput]
	DescribeAccountBehavior MockedFunction[organizations.DescribeAccountInput, organizations.DescribeAccountOutput]
}

type OrganizationsAPI struct {
	sdk.OrganizationsAPI
	OrganizationsBehavior
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (o *OrganizationsAPI) Reset() {
	o.ListAccountsBehavior.Reset()
	o.DescribeAccountBehavior.Reset()
}

func (o *OrganizationsAPI) ListAccounts(_ context.Context, input *organizations.ListAccountsInput, _ ...func(*organizations.Options)) (*organizations.ListAccountsOutput, error) {
	return o.ListAccountsBehavior.Invoke(input, func(_ *organizations.ListAccountsInput) (*organizations.ListAccountsOutput, error) {
		return &organizations.ListAccountsOutput{}, nil
	})
}

func (o *OrganizationsAPI) DescribeAccount(_ context.Context, input *organizations.DescribeAccountInput, _ ...func(*organizations.Options)) (*organizations.DescribeAccountOutput, error) {
	return o.DescribeAccountBehavior.Invoke(input, func(in *organizations.DescribeAccountInput) (*organizations.DescribeAccountOutput, error) {
		return &organizations.DescribeAccountOutput{
			Account: &types.Account{
				Id:   in.AccountId,
				Name: aws.String("workload"),
			},
		}, nil
	})
}
