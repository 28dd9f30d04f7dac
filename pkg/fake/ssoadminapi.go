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
	"github.com/aws/aws-sdk-go-v2/service/ssoadmin"
	"github.com/aws/aws-sdk-go-v2/service/ssoadmin/types"

	sdk "github.com/fivexl/sso-elevator/pkg/aws/sdk"
)

const (
	DefaultInstanceARN     = "arn:aws:sso:::instance/ssoins-0000000000000000"
	DefaultIdentityStoreID = "d-0000000000"
	DefaultRequestID       = "936d2dd8-d632-44f1-95e9-aaa0e1234567"
)

// SSOAdminBehavior must be reset between tests otherwise tests will
// pollute each other.
type SSOAdminBehavior struct {
	ListPermissionSetsBehavior                      MockedFunction[ssoadmin.ListPermissionSetsInput, ssoadmin.ListPermissionSetsOutput]
	DescribePermissionSetBehavior                   MockedFunction[ssoadmin.DescribePermissionSetInput, ssoadmin.DescribePermissionSetOutput]
	CreateAccountAssignmentBehavior                 MockedFunction[ssoadmin.CreateAccountAssignmentInput, ssoadmin.CreateAccountAssignmentOutput]
	DeleteAccountAssignmentBehavior                 MockedFunction[ssoadmin.DeleteAccountAssignmentInput, ssoadmin.DeleteAccountAssignmentOutput]
	DescribeAccountAssignmentCreationStatusBehavior MockedFunction[ssoadmin.DescribeAccountAssignmentCreationStatusInput, ssoadmin.DescribeAccountAssignmentCreationStatusOutput]
	DescribeAccountAssignmentDeletionStatusBehavior MockedFunction[ssoadmin.DescribeAccountAssignmentDeletionStatusInput, ssoadmin.DescribeAccountAssignmentDeletionStatusOutput]
	ListAccountAssignmentsBehavior                  MockedFunction[ssoadmin.ListAccountAssignmentsInput, ssoadmin.ListAccountAssignmentsOutput]
}

type SSOAdminAPI struct {
	sdk.SSOAdminAPI
	SSOAdminBehavior
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (s *SSOAdminAPI) Reset() {
	s.ListPermissionSetsBehavior.Reset()
	s.DescribePermissionSetBehavior.Reset()
	s.CreateAccountAssignmentBehavior.Reset()
	s.DeleteAccountAssignmentBehavior.Reset()
	s.DescribeAccountAssignmentCreationStatusBehavior.Reset()
	s.DescribeAccountAssignmentDeletionStatusBehavior.Reset()
	s.ListAccountAssignmentsBehavior.Reset()
}

func (s *SSOAdminAPI) ListPermissionSets(_ context.Context, input *ssoadmin.ListPermissionSetsInput, _ ...func(*ssoadmin.Options)) (*ssoadmin.ListPermissionSetsOutput, error) {
	return s.ListPermissionSetsBehavior.Invoke(input, func(_ *ssoadmin.ListPermissionSetsInput) (*ssoadmin.ListPermissionSetsOutput, error) {
		return &ssoadmin.ListPermissionSetsOutput{}, nil
	})
}

func (s *SSOAdminAPI) DescribePermissionSet(_ context.Context, input *ssoadmin.DescribePermissionSetInput, _ ...func(*ssoadmin.Options)) (*ssoadmin.DescribePermissionSetOutput, error) {
	return s.DescribePermissionSetBehavior.Invoke(input, func(in *ssoadmin.DescribePermissionSetInput) (*ssoadmin.DescribePermissionSetOutput, error) {
		return &ssoadmin.DescribePermissionSetOutput{
			PermissionSet: &types.PermissionSet{
				PermissionSetArn: in.PermissionSetArn,
				Name:             aws.String("ReadOnly"),
			},
		}, nil
	})
}

func (s *SSOAdminAPI) CreateAccountAssignment(_ context.Context, input *ssoadmin.CreateAccountAssignmentInput, _ ...func(*ssoadmin.Options)) (*ssoadmin.CreateAccountAssignmentOutput, error) {
	return s.CreateAccountAssignmentBehavior.Invoke(input, func(_ *ssoadmin.CreateAccountAssignmentInput) (*ssoadmin.CreateAccountAssignmentOutput, error) {
		return &ssoadmin.CreateAccountAssignmentOutput{
			AccountAssignmentCreationStatus: &types.AccountAssignmentOperationStatus{
				RequestId: aws.String(DefaultRequestID),
				Status:    types.StatusValuesInProgress,
			},
		}, nil
	})
}

func (s *SSOAdminAPI) DeleteAccountAssignment(_ context.Context, input *ssoadmin.DeleteAccountAssignmentInput, _ ...func(*ssoadmin.Options)) (*ssoadmin.DeleteAccountAssignmentOutput, error) {
	return s.DeleteAccountAssignmentBehavior.Invoke(input, func(_ *ssoadmin.DeleteAccountAssignmentInput) (*ssoadmin.DeleteAccountAssignmentOutput, error) {
		return &ssoadmin.DeleteAccountAssignmentOutput{
			AccountAssignmentDeletionStatus: &types.AccountAssignmentOperationStatus{
				RequestId: aws.String(DefaultRequestID),
				Status:    types.StatusValuesInProgress,
			},
		}, nil
	})
}

func (s *SSOAdminAPI) DescribeAccountAssignmentCreationStatus(_ context.Context, input *ssoadmin.DescribeAccountAssignmentCreationStatusInput, _ ...func(*ssoadmin.Options)) (*ssoadmin.DescribeAccountAssignmentCreationStatusOutput, error) {
	return s.DescribeAccountAssignmentCreationStatusBehavior.Invoke(input, func(in *ssoadmin.DescribeAccountAssignmentCreationStatusInput) (*ssoadmin.DescribeAccountAssignmentCreationStatusOutput, error) {
		return &ssoadmin.DescribeAccountAssignmentCreationStatusOutput{
			AccountAssignmentCreationStatus: &types.AccountAssignmentOperationStatus{
				RequestId: in.AccountAssignmentCreationRequestId,
				Status:    types.StatusValuesSucceeded,
			},
		}, nil
	})
}

func (s *SSOAdminAPI) DescribeAccountAssignmentDeletionStatus(_ context.Context, input *ssoadmin.DescribeAccountAssignmentDeletionStatusInput, _ ...func(*ssoadmin.Options)) (*ssoadmin.DescribeAccountAssignmentDeletionStatusOutput, error) {
	return s.DescribeAccountAssignmentDeletionStatusBehavior.Invoke(input, func(in *ssoadmin.DescribeAccountAssignmentDeletionStatusInput) (*ssoadmin.DescribeAccountAssignmentDeletionStatusOutput, error) {
		return &ssoadmin.DescribeAccountAssignmentDeletionStatusOutput{
			AccountAssignmentDeletionStatus: &types.AccountAssignmentOperationStatus{
				RequestId: in.AccountAssignmentDeletionRequestId,
				Status:    types.StatusValuesSucceeded,
			},
		}, nil
	})
}

func (s *SSOAdminAPI) ListAccountAssignments(_ context.Context, input *ssoadmin.ListAccountAssignmentsInput, _ ...func(*ssoadmin.Options)) (*ssoadmin.ListAccountAssignmentsOutput, error) {
	return s.ListAccountAssignmentsBehavior.Invoke(input, func(_ *ssoadmin.ListAccountAssignmentsInput) (*ssoadmin.ListAccountAssignmentsOutput, error) {
		return &ssoadmin.ListAccountAssignmentsOutput{}, nil
	})
}
