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

package assignment_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssoadmin"
	ssoadmintypes "github.com/aws/aws-sdk-go-v2/service/ssoadmin/types"
	"github.com/aws/smithy-go"

	"github.com/fivexl/sso-elevator/pkg/apis"
	"github.com/fivexl/sso-elevator/pkg/fake"
	"github.com/fivexl/sso-elevator/pkg/providers/assignment"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const testPermissionSetARN = "arn:aws:sso:::permissionSet/ssoins-0000000000000000/ps-1234567890abcdef"

var (
	ctx      context.Context
	ssoapi   *fake.SSOAdminAPI
	provider *assignment.Provider
)

func TestAssignment(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Assignment")
}

var _ = BeforeSuite(func() {
	ssoapi = &fake.SSOAdminAPI{}
})

var _ = BeforeEach(func() {
	ctx = context.Background()
	ssoapi.Reset()
	provider = assignment.NewProvider(ssoapi, fake.DefaultInstanceARN)
})

func testAssignment() apis.Assignment {
	return apis.Assignment{
		AccountID:        "111111111111",
		PermissionSetARN: testPermissionSetARN,
		PrincipalID:      "u-1",
		PrincipalType:    "USER",
	}
}

var _ = Describe("Create", func() {
	It("should submit the assignment and poll the request to completion", func() {
		Expect(provider.Create(ctx, testAssignment())).To(Succeed())

		input := ssoapi.CreateAccountAssignmentBehavior.CalledWithInput.Pop()
		Expect(aws.ToString(input.TargetId)).To(Equal("111111111111"))
		Expect(aws.ToString(input.PermissionSetArn)).To(Equal(testPermissionSetARN))
		Expect(input.PrincipalType).To(Equal(ssoadmintypes.PrincipalTypeUser))
		Expect(ssoapi.DescribeAccountAssignmentCreationStatusBehavior.Calls()).To(Equal(1))
	})

	It("should treat an already-existing assignment as success", func() {
		ssoapi.CreateAccountAssignmentBehavior.Error.Set(&smithy.GenericAPIError{Code: "ConflictException"})

		Expect(provider.Create(ctx, testAssignment())).To(Succeed())
		Expect(ssoapi.DescribeAccountAssignmentCreationStatusBehavior.Calls()).To(BeZero())
	})

	It("should surface a failed creation request", func() {
		ssoapi.DescribeAccountAssignmentCreationStatusBehavior.Output.Set(&ssoadmin.DescribeAccountAssignmentCreationStatusOutput{
			AccountAssignmentCreationStatus: &ssoadmintypes.AccountAssignmentOperationStatus{
				RequestId:     aws.String(fake.DefaultRequestID),
				Status:        ssoadmintypes.StatusValuesFailed,
				FailureReason: aws.String("Received a 404 status error: PermissionSet not found"),
			},
		})

		err := provider.Create(ctx, testAssignment())
		Expect(err).To(MatchError(ContainSubstring("PermissionSet not found")))
	})
})

var _ = Describe("Delete", func() {
	It("should delete and report that something was removed", func() {
		deleted, err := provider.Delete(ctx, testAssignment())
		Expect(err).ToNot(HaveOccurred())
		Expect(deleted).To(BeTrue())
		Expect(ssoapi.DescribeAccountAssignmentDeletionStatusBehavior.Calls()).To(Equal(1))
	})

	It("should treat a missing assignment as success without reporting a removal", func() {
		ssoapi.DeleteAccountAssignmentBehavior.Error.Set(&smithy.GenericAPIError{Code: "ResourceNotFoundException"})

		deleted, err := provider.Delete(ctx, testAssignment())
		Expect(err).ToNot(HaveOccurred())
		Expect(deleted).To(BeFalse())
	})

	It("should tolerate a deletion request that failed because the assignment was gone", func() {
		ssoapi.DescribeAccountAssignmentDeletionStatusBehavior.Output.Set(&ssoadmin.DescribeAccountAssignmentDeletionStatusOutput{
			AccountAssignmentDeletionStatus: &ssoadmintypes.AccountAssignmentOperationStatus{
				RequestId:     aws.String(fake.DefaultRequestID),
				Status:        ssoadmintypes.StatusValuesFailed,
				FailureReason: aws.String("Received a 404 status error: Account assignment not found"),
			},
		})

		deleted, err := provider.Delete(ctx, testAssignment())
		Expect(err).ToNot(HaveOccurred())
		Expect(deleted).To(BeTrue())
	})
})

var _ = Describe("ListForAccount", func() {
	It("should keep user-level assignments and drop group-level ones", func() {
		ssoapi.ListAccountAssignmentsBehavior.Output.Set(&ssoadmin.ListAccountAssignmentsOutput{
			AccountAssignments: []ssoadmintypes.AccountAssignment{
				{
					AccountId:        aws.String("111111111111"),
					PermissionSetArn: aws.String(testPermissionSetARN),
					PrincipalId:      aws.String("u-1"),
					PrincipalType:    ssoadmintypes.PrincipalTypeUser,
				},
				{
					AccountId:        aws.String("111111111111"),
					PermissionSetArn: aws.String(testPermissionSetARN),
					PrincipalId:      aws.String("group-1"),
					PrincipalType:    ssoadmintypes.PrincipalTypeGroup,
				},
			},
		})

		assignments, err := provider.ListForAccount(ctx, "111111111111", []string{testPermissionSetARN})
		Expect(err).ToNot(HaveOccurred())
		Expect(assignments).To(HaveLen(1))
		Expect(assignments[0].PrincipalID).To(Equal("u-1"))
	})

	It("should issue one listing per permission set", func() {
		_, err := provider.ListForAccount(ctx, "111111111111", []string{testPermissionSetARN, testPermissionSetARN + "2"})
		Expect(err).ToNot(HaveOccurred())
		Expect(ssoapi.ListAccountAssignmentsBehavior.Calls()).To(Equal(2))
	})
})
