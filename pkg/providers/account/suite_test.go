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

package account_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	organizationstypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/smithy-go"

	"github.com/fivexl/sso-elevator/pkg/apis"
	listingcache "github.com/fivexl/sso-elevator/pkg/cache"
	"github.com/fivexl/sso-elevator/pkg/fake"
	"github.com/fivexl/sso-elevator/pkg/providers/account"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const cacheBucket = "cache-bucket"

var (
	ctx    context.Context
	orgapi *fake.OrganizationsAPI
	s3api  *fake.S3API
)

func TestAccount(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Account")
}

var _ = BeforeSuite(func() {
	orgapi = &fake.OrganizationsAPI{}
	s3api = &fake.S3API{}
})

var _ = BeforeEach(func() {
	ctx = context.Background()
	orgapi.Reset()
	s3api.Reset()
})

func newProvider(cacheEnabled bool) *account.Provider {
	return account.NewProvider(orgapi, listingcache.NewCache(s3api, cacheBucket, cacheEnabled))
}

var _ = Describe("List", func() {
	It("should return accounts sorted by id", func() {
		orgapi.ListAccountsBehavior.Output.Set(&organizations.ListAccountsOutput{
			Accounts: []organizationstypes.Account{
				{Id: aws.String("222222222222"), Name: aws.String("dev")},
				{Id: aws.String("111111111111"), Name: aws.String("prod")},
			},
		})
		p := newProvider(false)

		accounts, err := p.List(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(accounts).To(Equal([]apis.Account{
			{ID: "111111111111", Name: "prod"},
			{ID: "222222222222", Name: "dev"},
		}))
	})

	It("should write the listing through to the cache bucket", func() {
		orgapi.ListAccountsBehavior.Output.Set(&organizations.ListAccountsOutput{
			Accounts: []organizationstypes.Account{
				{Id: aws.String("111111111111"), Name: aws.String("prod")},
			},
		})
		p := newProvider(true)

		_, err := p.List(ctx)
		Expect(err).ToNot(HaveOccurred())

		data, ok := s3api.Object(cacheBucket, listingcache.AccountsKey)
		Expect(ok).To(BeTrue())
		Expect(string(data)).To(MatchJSON(`[{"id":"111111111111","name":"prod"}]`))
	})

	It("should serve the cached listing when the organization API fails", func() {
		s3api.StoreObject(cacheBucket, listingcache.AccountsKey,
			[]byte(`[{"id":"111111111111","name":"prod"}]`))
		orgapi.ListAccountsBehavior.Error.Set(&smithy.GenericAPIError{Code: "TooManyRequestsException"})
		p := newProvider(true)

		accounts, err := p.List(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(accounts).To(Equal([]apis.Account{{ID: "111111111111", Name: "prod"}}))
	})
})

var _ = Describe("Describe", func() {
	It("should memoize account lookups", func() {
		p := newProvider(false)

		first, err := p.Describe(ctx, "111111111111")
		Expect(err).ToNot(HaveOccurred())
		second, err := p.Describe(ctx, "111111111111")
		Expect(err).ToNot(HaveOccurred())
		Expect(second).To(Equal(first))
		Expect(orgapi.DescribeAccountBehavior.Calls()).To(Equal(1))
	})
})
