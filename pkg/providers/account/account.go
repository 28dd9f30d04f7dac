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

package account

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/patrickmn/go-cache"

	"github.com/fivexl/sso-elevator/pkg/apis"
	sdk "github.com/fivexl/sso-elevator/pkg/aws/sdk"
	listingcache "github.com/fivexl/sso-elevator/pkg/cache"
)

// Provider lists and describes organization accounts. Listings go through the
// resilient S3 cache, describes are memoized in process.
type Provider struct {
	orgapi  sdk.OrganizationsAPI
	listing *listingcache.Cache
	memo    *cache.Cache
}

func NewProvider(orgapi sdk.OrganizationsAPI, listing *listingcache.Cache) *Provider {
	return &Provider{
		orgapi:  orgapi,
		listing: listing,
		memo:    cache.New(15*time.Minute, 30*time.Minute),
	}
}

// List returns every account in the organization, sorted by id.
func (p *Provider) List(ctx context.Context) ([]apis.Account, error) {
	return listingcache.Resolve(ctx, p.listing, listingcache.AccountsKey, p.list)
}

func (p *Provider) list(ctx context.Context) ([]apis.Account, error) {
	var accounts []apis.Account
	var nextToken *string
	for {
		out, err := p.orgapi.ListAccounts(ctx, &organizations.ListAccountsInput{
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("listing accounts, %w", err)
		}
		for _, acct := range out.Accounts {
			accounts = append(accounts, apis.Account{
				ID:   aws.ToString(acct.Id),
				Name: aws.ToString(acct.Name),
			})
		}
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

// Describe resolves a single account, memoized for message humanization.
func (p *Provider) Describe(ctx context.Context, accountID string) (apis.Account, error) {
	if cached, ok := p.memo.Get(accountID); ok {
		return cached.(apis.Account), nil
	}
	out, err := p.orgapi.DescribeAccount(ctx, &organizations.DescribeAccountInput{
		AccountId: aws.String(accountID),
	})
	if err != nil {
		return apis.Account{}, fmt.Errorf("describing account %q, %w", accountID, err)
	}
	acct := apis.Account{
		ID:   aws.ToString(out.Account.Id),
		Name: aws.ToString(out.Account.Name),
	}
	p.memo.SetDefault(accountID, acct)
	return acct, nil
}
