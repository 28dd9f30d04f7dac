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

package access_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/identitystore"
	identitystoretypes "github.com/aws/aws-sdk-go-v2/service/identitystore/types"
	"github.com/aws/aws-sdk-go-v2/service/ssoadmin"
	"github.com/aws/smithy-go"
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

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const (
	testPermissionSetARN = "arn:aws:sso:::permissionSet/ssoins-0000000000000000/ps-1234567890abcdef"
	testAccountID        = "111111111111"
	testGroupID          = "group-1"
	requesterEmail       = "dev@corp.example"
	approverEmail        = "boss@corp.example"
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

	executor *access.Executor
	notifier *notifications.Client
)

func TestAccess(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Access")
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

	ssoapi.ListPermissionSetsBehavior.Output.Set(&ssoadmin.ListPermissionSetsOutput{
		PermissionSets: []string{testPermissionSetARN},
	})
	idsapi.ListUsersBehavior.Output.Set(&identitystore.ListUsersOutput{
		Users: []identitystoretypes.User{{
			UserId:   aws.String("u-1"),
			UserName: aws.String(requesterEmail),
			Emails:   []identitystoretypes.Email{{Value: aws.String(requesterEmail), Primary: true}},
		}},
	})

	assignments := assignment.NewProvider(ssoapi, fake.DefaultInstanceARN)
	identityProvider := identity.NewProvider(idsapi, fake.DefaultIdentityStoreID, nil)
	schedules := schedule.NewProvider(schapi, "sso-elevator", "arn:aws:lambda:us-east-1:000000000000:function:revoker",
		"arn:aws:iam::000000000000:role/scheduler")
	auditor := audit.NewWriter(s3api, auditBucket, "audit")
	notifier = notifications.NewClient(slackapi, "C-REQUESTS", false)
	executor = access.NewExecutor(assignments, identityProvider, schedules, auditor, notifier, false)
})

func lifecycleConfig() access.Config {
	return access.Config{
		MaxDuration:        24 * time.Hour,
		Expiration:         8 * time.Hour,
		ReminderInitial:    15 * time.Minute,
		ReminderMultiplier: 2,
	}
}

func newManager(configJSON string) *access.Manager {
	return buildManager(configJSON, lifecycleConfig(), true)
}

func buildManager(configJSON string, lifecycle access.Config, orgListing bool) *access.Manager {
	cfg := lo.Must(policy.Parse([]byte(configJSON)))
	listing := listingcache.NewCache(s3api, "cache-bucket", false)
	identityProvider := identity.NewProvider(idsapi, fake.DefaultIdentityStoreID, nil)
	permissionsets := permissionset.NewProvider(ssoapi, listing, fake.DefaultInstanceARN)
	var accounts *account.Provider
	if orgListing {
		accounts = account.NewProvider(orgapi, listing)
	}
	schedules := schedule.NewProvider(schapi, "sso-elevator", "arn:aws:lambda:us-east-1:000000000000:function:revoker",
		"arn:aws:iam::000000000000:role/scheduler")
	return access.NewManager(cfg, executor, identityProvider, permissionsets, accounts, schedules, notifier, lifecycle)
}

func submitInput() access.SubmitInput {
	return access.SubmitInput{
		RequesterEmail:    requesterEmail,
		Resource:          testAccountID,
		ResourceKind:      apis.ResourceKindAccount,
		PermissionSetName: "ReadOnly",
		Reason:            "incident response",
		Duration:          2 * time.Hour,
	}
}

func auditRecords() []apis.AuditRecord {
	var records []apis.AuditRecord
	for _, key := range s3api.Keys(auditBucket) {
		data, ok := s3api.Object(auditBucket, key)
		Expect(ok).To(BeTrue())
		var record apis.AuditRecord
		Expect(json.Unmarshal(data, &record)).To(Succeed())
		records = append(records, record)
	}
	return records
}

const autoApproveConfig = `{
	"statements": [{"resource": "` + testAccountID + `", "permission_set": "ReadOnly",
		"approval_is_not_required": true}]
}`

const approvalConfig = `{
	"statements": [{"resource": "` + testAccountID + `", "permission_set": "ReadOnly",
		"approvers": "` + approverEmail + `"}]
}`

const selfOnlyConfig = `{
	"statements": [{"resource": "` + testAccountID + `", "permission_set": "ReadOnly",
		"approvers": "` + requesterEmail + `"}]
}`

const groupConfig = `{
	"group_statements": [{"resource": "` + testGroupID + `", "approvers": "` + approverEmail + `"}]
}`

var _ = Describe("Executor", func() {
	var req *apis.AccessRequest
	var user apis.User

	BeforeEach(func() {
		req = &apis.AccessRequest{
			RequestID:         "req-1",
			RequesterEmail:    requesterEmail,
			ApproverEmail:     approverEmail,
			Resource:          testAccountID,
			ResourceKind:      apis.ResourceKindAccount,
			PermissionSetName: "ReadOnly",
			Reason:            "incident response",
			Duration:          2 * time.Hour,
			CreatedAt:         time.Now().UTC(),
		}
		user = apis.User{ID: "u-1", Email: requesterEmail}
	})

	It("should grant, then schedule the revocation, then audit", func() {
		Expect(executor.GrantAccount(ctx, req, user, testPermissionSetARN)).To(Succeed())

		Expect(ssoapi.CreateAccountAssignmentBehavior.Calls()).To(Equal(1))
		Expect(schapi.CreateScheduleBehavior.Calls()).To(Equal(1))
		created := schapi.CreateScheduleBehavior.CalledWithInput.Pop()
		Expect(aws.ToString(created.Name)).To(HavePrefix("sso-elevator-revoke-"))
		Expect(aws.ToString(created.ScheduleExpression)).To(HavePrefix("at("))

		var event apis.Event
		Expect(json.Unmarshal([]byte(aws.ToString(created.Target.Input)), &event)).To(Succeed())
		Expect(event.Action).To(Equal(apis.ActionScheduledRevoke))
		Expect(event.ScheduledRevoke.Assignment.AccountID).To(Equal(testAccountID))

		records := auditRecords()
		Expect(records).To(HaveLen(1))
		Expect(records[0].Operation).To(Equal(apis.AuditOperationGrant))
		Expect(records[0].SSOUserEmail).To(Equal(requesterEmail))
	})

	It("should fail the grant and explain the missing revocation when scheduling fails", func() {
		schapi.CreateScheduleBehavior.Error.Set(&smithy.GenericAPIError{Code: "InternalServerException"})

		Expect(executor.GrantAccount(ctx, req, user, testPermissionSetARN)).ToNot(Succeed())

		records := auditRecords()
		Expect(records).To(HaveLen(1))
		Expect(records[0].Reason).To(ContainSubstring("revocation scheduling failed"))
	})

	It("should revoke, delete the schedule, and audit", func() {
		event := &apis.ScheduledRevokeEvent{
			Assignment: apis.Assignment{
				AccountID:        testAccountID,
				PermissionSetARN: testPermissionSetARN,
				PrincipalID:      "u-1",
				PrincipalType:    "USER",
			},
			RequestID:          "req-1",
			RequesterEmail:     requesterEmail,
			PermissionDuration: "2h0m0s",
		}
		Expect(executor.RevokeAccount(ctx, event, "scheduled revocation")).To(Succeed())

		Expect(ssoapi.DeleteAccountAssignmentBehavior.Calls()).To(Equal(1))
		Expect(schapi.DeleteScheduleBehavior.Calls()).To(Equal(1))
		records := auditRecords()
		Expect(records).To(HaveLen(1))
		Expect(records[0].Operation).To(Equal(apis.AuditOperationRevoke))
	})

	It("should treat an already-absent assignment as success without a second audit row", func() {
		ssoapi.DeleteAccountAssignmentBehavior.Error.Set(&smithy.GenericAPIError{Code: "ResourceNotFoundException"})
		event := &apis.ScheduledRevokeEvent{
			Assignment: apis.Assignment{
				AccountID:        testAccountID,
				PermissionSetARN: testPermissionSetARN,
				PrincipalID:      "u-1",
				PrincipalType:    "USER",
			},
			RequestID: "req-1",
		}
		Expect(executor.RevokeAccount(ctx, event, "scheduled revocation")).To(Succeed())

		Expect(auditRecords()).To(BeEmpty())
	})

	It("should treat a duplicate membership revoke as success without a second audit row", func() {
		idsapi.DeleteGroupMembershipBehavior.Error.Set(&smithy.GenericAPIError{Code: "ResourceNotFoundException"})
		event := &apis.ScheduledGroupRevokeEvent{
			Membership: apis.GroupMembership{MembershipID: "m-1", GroupID: testGroupID, UserID: "u-1"},
			RequestID:  "req-1",
		}
		Expect(executor.RevokeGroup(ctx, event, "scheduled revocation")).To(Succeed())

		Expect(auditRecords()).To(BeEmpty())
	})
})

var _ = Describe("Manager", func() {
	It("should grant immediately when no approval is required", func() {
		m := newManager(autoApproveConfig)

		req, err := m.Submit(ctx, submitInput())
		Expect(err).ToNot(HaveOccurred())
		Expect(req.State).To(Equal(apis.RequestStateGranted))
		Expect(ssoapi.CreateAccountAssignmentBehavior.Calls()).To(Equal(1))
	})

	It("should publish and wait when approval is required", func() {
		m := newManager(approvalConfig)

		req, err := m.Submit(ctx, submitInput())
		Expect(err).ToNot(HaveOccurred())
		Expect(req.State).To(Equal(apis.RequestStatePending))
		Expect(ssoapi.CreateAccountAssignmentBehavior.Calls()).To(BeZero())
		Expect(slackapi.Messages).ToNot(BeEmpty())
		Expect(slackapi.Messages[0].Text).To(ContainSubstring(req.RequestID))
	})

	It("should grant once a listed approver approves", func() {
		m := newManager(approvalConfig)
		req := lo.Must(m.Submit(ctx, submitInput()))

		approved, err := m.Approve(ctx, req.RequestID, approverEmail)
		Expect(err).ToNot(HaveOccurred())
		Expect(approved.State).To(Equal(apis.RequestStateGranted))
		Expect(approved.ApproverEmail).To(Equal(approverEmail))
		Expect(ssoapi.CreateAccountAssignmentBehavior.Calls()).To(Equal(1))
		Expect(slackapi.Updates).ToNot(BeEmpty())
	})

	It("should refuse a decision from someone who is not an approver", func() {
		m := newManager(approvalConfig)
		req := lo.Must(m.Submit(ctx, submitInput()))

		_, err := m.Approve(ctx, req.RequestID, "stranger@corp.example")
		Expect(err).To(MatchError(access.ErrNotAllowed))
		Expect(ssoapi.CreateAccountAssignmentBehavior.Calls()).To(BeZero())
	})

	It("should deny and stop there", func() {
		m := newManager(approvalConfig)
		req := lo.Must(m.Submit(ctx, submitInput()))

		denied, err := m.Deny(ctx, req.RequestID, approverEmail)
		Expect(err).ToNot(HaveOccurred())
		Expect(denied.State).To(Equal(apis.RequestStateDenied))
		Expect(ssoapi.CreateAccountAssignmentBehavior.Calls()).To(BeZero())
	})

	It("should warn in the thread when nobody can approve", func() {
		m := newManager(selfOnlyConfig)

		req, err := m.Submit(ctx, submitInput())
		Expect(err).ToNot(HaveOccurred())
		Expect(req.State).To(Equal(apis.RequestStatePending))

		all := strings.Join(slackapi.AllText(), "\n")
		Expect(all).To(ContainSubstring("nobody can approve this request"))
	})

	It("should reject durations over the maximum", func() {
		m := newManager(approvalConfig)
		in := submitInput()
		in.Duration = 48 * time.Hour

		_, err := m.Submit(ctx, in)
		Expect(err).To(MatchError(access.ErrDurationTooLong))
	})

	It("should reject a duplicate in-flight request", func() {
		m := newManager(approvalConfig)
		lo.Must(m.Submit(ctx, submitInput()))

		_, err := m.Submit(ctx, submitInput())
		Expect(err).To(MatchError(access.ErrDuplicateRequest))
	})

	It("should expire a pending request and disarm its buttons", func() {
		m := newManager(approvalConfig)
		req := lo.Must(m.Submit(ctx, submitInput()))

		expired, err := m.Expire(ctx, req.RequestID)
		Expect(err).ToNot(HaveOccurred())
		Expect(expired.State).To(Equal(apis.RequestStateExpired))

		_, err = m.Approve(ctx, req.RequestID, approverEmail)
		Expect(err).ToNot(HaveOccurred())
		Expect(ssoapi.CreateAccountAssignmentBehavior.Calls()).To(BeZero())
	})

	It("should create memberships for approved group requests", func() {
		m := newManager(groupConfig)
		in := access.SubmitInput{
			RequesterEmail: requesterEmail,
			Resource:       testGroupID,
			ResourceKind:   apis.ResourceKindGroup,
			Reason:         "on-call rotation",
			Duration:       2 * time.Hour,
		}
		req := lo.Must(m.Submit(ctx, in))

		approved, err := m.Approve(ctx, req.RequestID, approverEmail)
		Expect(err).ToNot(HaveOccurred())
		Expect(approved.State).To(Equal(apis.RequestStateGranted))
		Expect(idsapi.CreateGroupMembershipBehavior.Calls()).To(Equal(1))
		Expect(idsapi.MembershipList()).To(HaveLen(1))
		Expect(idsapi.MembershipList()[0].GroupID).To(Equal(testGroupID))
	})

	It("should schedule expiry and reminders for pending requests", func() {
		m := newManager(approvalConfig)
		lo.Must(m.Submit(ctx, submitInput()))

		// one expiry schedule and one reminder schedule
		Expect(schapi.CreateScheduleBehavior.Calls()).To(Equal(2))
	})

	It("should put the account name next to the id in the request message", func() {
		m := newManager(approvalConfig)
		lo.Must(m.Submit(ctx, submitInput()))

		Expect(orgapi.DescribeAccountBehavior.Calls()).To(Equal(1))
		Expect(slackapi.Messages).ToNot(BeEmpty())
		Expect(slackapi.Messages[0].Text).To(ContainSubstring("workload"))
		Expect(slackapi.Messages[0].Text).To(ContainSubstring(testAccountID))
	})

	It("should fall back to the raw account id when organizations listing is disabled", func() {
		m := buildManager(approvalConfig, lifecycleConfig(), false)
		lo.Must(m.Submit(ctx, submitInput()))

		Expect(orgapi.DescribeAccountBehavior.Calls()).To(BeZero())
		Expect(slackapi.Messages).ToNot(BeEmpty())
		Expect(slackapi.Messages[0].Text).To(ContainSubstring(testAccountID))
		Expect(slackapi.Messages[0].Text).ToNot(ContainSubstring("workload"))
	})

	It("should evict requests from memory once their retention lapses", func() {
		lifecycle := lifecycleConfig()
		lifecycle.Expiration = 10 * time.Millisecond
		lifecycle.ReminderInitial = 0
		m := buildManager(approvalConfig, lifecycle, true)
		req := lo.Must(m.Submit(ctx, submitInput()))

		_, ok := m.Get(req.RequestID)
		Expect(ok).To(BeTrue())
		Eventually(func() bool {
			_, ok := m.Get(req.RequestID)
			return ok
		}, time.Second, 5*time.Millisecond).Should(BeFalse())
	})
})
