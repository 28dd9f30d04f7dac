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

package reconciler_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	organizationstypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	schedulertypes "github.com/aws/aws-sdk-go-v2/service/scheduler/types"
	"github.com/aws/aws-sdk-go-v2/service/ssoadmin"
	ssoadmintypes "github.com/aws/aws-sdk-go-v2/service/ssoadmin/types"
	"github.com/samber/lo"

	"github.com/fivexl/sso-elevator/pkg/access"
	"github.com/fivexl/sso-elevator/pkg/apis"
	"github.com/fivexl/sso-elevator/pkg/audit"
	listingcache "github.com/fivexl/sso-elevator/pkg/cache"
	"github.com/fivexl/sso-elevator/pkg/fake"
	"github.com/fivexl/sso-elevator/pkg/notifications"
	"github.com/fivexl/sso-elevator/pkg/policy"
	"github.com/fivexl/sso-elevator/pkg/providers/account"
	"github.com/fivexl/sso-elevator/pkg/providers/assignment"
	"github.com/fivexl/sso-elevator/pkg/providers/identity"
	"github.com/fivexl/sso-elevator/pkg/providers/permissionset"
	"github.com/fivexl/sso-elevator/pkg/providers/schedule"
	"github.com/fivexl/sso-elevator/pkg/reconciler"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const (
	testPermissionSetARN = "arn:aws:sso:::permissionSet/ssoins-0000000000000000/ps-1234567890abcdef"
	testAccountID        = "111111111111"
	testGroupID          = "group-1"
	auditBucket          = "audit-bucket"
)

var (
	ctx      context.Context
	ssoapi   *fake.SSOAdminAPI
	idsapi   *fake.IdentityStoreAPI
	orgapi   *fake.OrganizationsAPI
	schapi   *fake.SchedulerAPI
	s3api    *fake.S3API
	slackapi *fake.SlackAPI
)

func TestReconciler(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Reconciler")
}

var _ = BeforeSuite(func() {
	ssoapi = &fake.SSOAdminAPI{}
	idsapi = &fake.IdentityStoreAPI{}
	orgapi = &fake.OrganizationsAPI{}
	schapi = &fake.SchedulerAPI{}
	s3api = &fake.S3API{}
	slackapi = &fake.SlackAPI{}
})

var _ = BeforeEach(func() {
	ctx = context.Background()
	ssoapi.Reset()
	idsapi.Reset()
	orgapi.Reset()
	schapi.Reset()
	s3api.Reset()
	slackapi.Reset()
})

func newReconciler(configJSON string, scope []string) *reconciler.Reconciler {
	cfg := lo.Must(policy.Parse([]byte(configJSON)))
	listing := listingcache.NewCache(s3api, "cache-bucket", false)
	accounts := account.NewProvider(orgapi, listing)
	permissionsets := permissionset.NewProvider(ssoapi, listing, fake.DefaultInstanceARN)
	assignments := assignment.NewProvider(ssoapi, fake.DefaultInstanceARN)
	identityProvider := identity.NewProvider(idsapi, fake.DefaultIdentityStoreID, nil)
	schedules := schedule.NewProvider(schapi, "sso-elevator", "arn:aws:lambda:us-east-1:000000000000:function:revoker",
		"arn:aws:iam::000000000000:role/scheduler")
	auditor := audit.NewWriter(s3api, auditBucket, "audit")
	notifier := notifications.NewClient(slackapi, "C-ALERTS", false)
	executor := access.NewExecutor(assignments, identityProvider, schedules, auditor, notifier, false)
	return reconciler.New(cfg, accounts, permissionsets, assignments, identityProvider, schedules, executor, notifier, scope)
}

const testConfig = `{
	"statements": [{"resource": "` + testAccountID + `", "permission_set": "Admin", "approvers": "boss@corp.example"}],
	"group_statements": [{"resource": "` + testGroupID + `", "approvers": "boss@corp.example"}]
}`

func seedAssignmentListing() {
	ssoapi.ListPermissionSetsBehavior.Output.Set(&ssoadmin.ListPermissionSetsOutput{
		PermissionSets: []string{testPermissionSetARN},
	})
	ssoapi.ListAccountAssignmentsBehavior.Output.Set(&ssoadmin.ListAccountAssignmentsOutput{
		AccountAssignments: []ssoadmintypes.AccountAssignment{{
			AccountId:        aws.String(testAccountID),
			PermissionSetArn: aws.String(testPermissionSetARN),
			PrincipalId:      aws.String("user-1"),
			PrincipalType:    ssoadmintypes.PrincipalTypeUser,
		}},
	})
}

func seedMembershipListing() {
	idsapi.AddMembership(testGroupID, "user-9")
}

// seedGoverningSchedule registers a live schedule whose payload covers the
// seeded assignment, so the sweep must not treat it as an orphan.
func seedGoverningSchedule() {
	event := &apis.Event{
		Action: apis.ActionScheduledRevoke,
		ScheduledRevoke: &apis.ScheduledRevokeEvent{
			Assignment: apis.Assignment{
				AccountID:        testAccountID,
				PermissionSetARN: testPermissionSetARN,
				PrincipalID:      "user-1",
				PrincipalType:    "USER",
			},
			RequestID:          "req-1",
			RequesterEmail:     "dev@corp.example",
			PermissionDuration: "1h0m0s",
		},
	}
	payload := lo.Must(json.Marshal(event))
	schapi.ListSchedulesBehavior.Output.Set(&scheduler.ListSchedulesOutput{
		Schedules: []schedulertypes.ScheduleSummary{{Name: aws.String("sso-elevator-revoke-1")}},
	})
	schapi.GetScheduleBehavior.Output.Set(&scheduler.GetScheduleOutput{
		Name: aws.String("sso-elevator-revoke-1"),
		Target: &schedulertypes.Target{
			Arn:   aws.String("arn:aws:lambda:us-east-1:000000000000:function:revoker"),
			Input: aws.String(string(payload)),
		},
	})
}

var _ = Describe("Warn sweep", func() {
	It("should report ungoverned assignments and memberships without mutating anything", func() {
		seedAssignmentListing()
		seedMembershipListing()
		rec := newReconciler(testConfig, nil)

		Expect(rec.Sweep(ctx, reconciler.ModeWarn)).To(Succeed())

		Expect(slackapi.Messages).To(HaveLen(1))
		Expect(slackapi.Messages[0].Text).To(ContainSubstring(testAccountID))
		Expect(slackapi.Messages[0].Text).To(ContainSubstring(testGroupID))
		Expect(ssoapi.DeleteAccountAssignmentBehavior.Calls()).To(Equal(0))
		Expect(idsapi.DeleteGroupMembershipBehavior.Calls()).To(Equal(0))
		Expect(s3api.Keys(auditBucket)).To(BeEmpty())
	})

	It("should name the principal of a reported assignment", func() {
		seedAssignmentListing()
		rec := newReconciler(testConfig, nil)

		Expect(rec.Sweep(ctx, reconciler.ModeWarn)).To(Succeed())

		Expect(idsapi.DescribeUserBehavior.Calls()).To(Equal(1))
		Expect(slackapi.Messages).To(HaveLen(1))
		Expect(slackapi.Messages[0].Text).To(ContainSubstring("someone@example.com"))
		Expect(slackapi.Messages[0].Text).To(ContainSubstring("user-1"))
	})

	It("should stay silent when every assignment is governed by a schedule", func() {
		seedAssignmentListing()
		seedGoverningSchedule()
		rec := newReconciler(testConfig, nil)

		Expect(rec.Sweep(ctx, reconciler.ModeWarn)).To(Succeed())

		Expect(slackapi.Messages).To(BeEmpty())
	})
})

var _ = Describe("Revoke sweep", func() {
	It("should revoke ungoverned assignments and write audit rows", func() {
		seedAssignmentListing()
		rec := newReconciler(testConfig, nil)

		Expect(rec.Sweep(ctx, reconciler.ModeRevoke)).To(Succeed())

		Expect(ssoapi.DeleteAccountAssignmentBehavior.Calls()).To(Equal(1))
		deleted := ssoapi.DeleteAccountAssignmentBehavior.CalledWithInput.Pop()
		Expect(aws.ToString(deleted.TargetId)).To(Equal(testAccountID))
		Expect(aws.ToString(deleted.PermissionSetArn)).To(Equal(testPermissionSetARN))
		Expect(s3api.Keys(auditBucket)).To(HaveLen(1))
	})

	It("should revoke ungoverned memberships of governed groups", func() {
		seedMembershipListing()
		rec := newReconciler(testConfig, nil)

		Expect(rec.Sweep(ctx, reconciler.ModeRevoke)).To(Succeed())

		Expect(idsapi.DeleteGroupMembershipBehavior.Calls()).To(Equal(1))
		deleted := idsapi.DeleteGroupMembershipBehavior.CalledWithInput.Pop()
		Expect(aws.ToString(deleted.MembershipId)).To(Equal("membership-1"))
		Expect(s3api.Keys(auditBucket)).To(HaveLen(1))
	})

	It("should leave governed assignments in place", func() {
		seedAssignmentListing()
		seedGoverningSchedule()
		rec := newReconciler(testConfig, nil)

		Expect(rec.Sweep(ctx, reconciler.ModeRevoke)).To(Succeed())

		Expect(ssoapi.DeleteAccountAssignmentBehavior.Calls()).To(Equal(0))
		Expect(s3api.Keys(auditBucket)).To(BeEmpty())
	})
})

var _ = Describe("Sweep scope", func() {
	It("should expand wildcard statements over the whole organization", func() {
		orgapi.ListAccountsBehavior.Output.Set(&organizations.ListAccountsOutput{
			Accounts: []organizationstypes.Account{
				{Id: aws.String("111111111111"), Name: aws.String("prod")},
				{Id: aws.String("222222222222"), Name: aws.String("dev")},
			},
		})
		ssoapi.ListPermissionSetsBehavior.Output.Set(&ssoadmin.ListPermissionSetsOutput{
			PermissionSets: []string{testPermissionSetARN},
		})
		rec := newReconciler(`{"statements": [{"resource": "*", "permission_set": "*", "approvers": "boss@corp.example"}]}`, nil)

		Expect(rec.Sweep(ctx, reconciler.ModeWarn)).To(Succeed())

		// one listing per account for the single permission set
		Expect(ssoapi.ListAccountAssignmentsBehavior.Calls()).To(Equal(2))
	})

	It("should skip accounts outside the operator scope", func() {
		seedAssignmentListing()
		rec := newReconciler(testConfig, []string{"999999999999"})

		Expect(rec.Sweep(ctx, reconciler.ModeWarn)).To(Succeed())

		Expect(ssoapi.ListAccountAssignmentsBehavior.Calls()).To(Equal(0))
	})
})
