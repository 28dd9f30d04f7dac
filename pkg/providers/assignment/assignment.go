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

package assignment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssoadmin"
	"github.com/aws/aws-sdk-go-v2/service/ssoadmin/types"
	"github.com/avast/retry-go"

	"github.com/fivexl/sso-elevator/pkg/apis"
	sdk "github.com/fivexl/sso-elevator/pkg/aws/sdk"
	awserrors "github.com/fivexl/sso-elevator/pkg/errors"
)

const (
	pollAttempts = 20
	pollDelay    = 2 * time.Second
)

// Provider creates and deletes account assignments. Both operations submit an
// asynchronous control plane request and poll it to a terminal state with a
// bounded backoff.
type Provider struct {
	ssoapi      sdk.SSOAdminAPI
	instanceARN string
}

func NewProvider(ssoapi sdk.SSOAdminAPI, instanceARN string) *Provider {
	return &Provider{
		ssoapi:      ssoapi,
		instanceARN: instanceARN,
	}
}

// Create assigns the permission set to the principal on the account. An
// assignment that already exists is success.
func (p *Provider) Create(ctx context.Context, a apis.Assignment) error {
	out, err := p.ssoapi.CreateAccountAssignment(ctx, &ssoadmin.CreateAccountAssignmentInput{
		InstanceArn:      aws.String(p.instanceARN),
		TargetId:         aws.String(a.AccountID),
		TargetType:       types.TargetTypeAwsAccount,
		PermissionSetArn: aws.String(a.PermissionSetARN),
		PrincipalId:      aws.String(a.PrincipalID),
		PrincipalType:    types.PrincipalType(a.PrincipalType),
	})
	if err != nil {
		if awserrors.IsAlreadyExists(err) {
			return nil
		}
		return fmt.Errorf("creating assignment %s/%s for %s, %w", a.AccountID, a.PermissionSetARN, a.PrincipalID, err)
	}
	return p.awaitCreation(ctx, aws.ToString(out.AccountAssignmentCreationStatus.RequestId))
}

func (p *Provider) awaitCreation(ctx context.Context, requestID string) error {
	return retry.Do(func() error {
		out, err := p.ssoapi.DescribeAccountAssignmentCreationStatus(ctx, &ssoadmin.DescribeAccountAssignmentCreationStatusInput{
			InstanceArn:                        aws.String(p.instanceARN),
			AccountAssignmentCreationRequestId: aws.String(requestID),
		})
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("describing assignment creation %q, %w", requestID, err))
		}
		switch out.AccountAssignmentCreationStatus.Status {
		case types.StatusValuesSucceeded:
			return nil
		case types.StatusValuesFailed:
			return retry.Unrecoverable(fmt.Errorf("assignment creation failed, %s",
				aws.ToString(out.AccountAssignmentCreationStatus.FailureReason)))
		default:
			return fmt.Errorf("assignment creation %q still in progress", requestID)
		}
	}, retry.Context(ctx), retry.Attempts(pollAttempts), retry.Delay(pollDelay),
		retry.DelayType(retry.BackOffDelay), retry.LastErrorOnly(true))
}

// Delete removes the assignment. A missing assignment is success, both on the
// initial call and in the terminal status of the asynchronous request. The
// returned flag reports whether anything was actually deleted, so callers can
// avoid duplicate audit rows on retried revocations.
func (p *Provider) Delete(ctx context.Context, a apis.Assignment) (bool, error) {
	out, err := p.ssoapi.DeleteAccountAssignment(ctx, &ssoadmin.DeleteAccountAssignmentInput{
		InstanceArn:      aws.String(p.instanceARN),
		TargetId:         aws.String(a.AccountID),
		TargetType:       types.TargetTypeAwsAccount,
		PermissionSetArn: aws.String(a.PermissionSetARN),
		PrincipalId:      aws.String(a.PrincipalID),
		PrincipalType:    types.PrincipalType(a.PrincipalType),
	})
	if err != nil {
		if awserrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("deleting assignment %s/%s for %s, %w", a.AccountID, a.PermissionSetARN, a.PrincipalID, err)
	}
	if err := p.awaitDeletion(ctx, aws.ToString(out.AccountAssignmentDeletionStatus.RequestId)); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) awaitDeletion(ctx context.Context, requestID string) error {
	return retry.Do(func() error {
		out, err := p.ssoapi.DescribeAccountAssignmentDeletionStatus(ctx, &ssoadmin.DescribeAccountAssignmentDeletionStatusInput{
			InstanceArn:                        aws.String(p.instanceARN),
			AccountAssignmentDeletionRequestId: aws.String(requestID),
		})
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("describing assignment deletion %q, %w", requestID, err))
		}
		switch out.AccountAssignmentDeletionStatus.Status {
		case types.StatusValuesSucceeded:
			return nil
		case types.StatusValuesFailed:
			reason := aws.ToString(out.AccountAssignmentDeletionStatus.FailureReason)
			if strings.Contains(strings.ToLower(reason), "not found") {
				return nil
			}
			return retry.Unrecoverable(fmt.Errorf("assignment deletion failed, %s", reason))
		default:
			return fmt.Errorf("assignment deletion %q still in progress", requestID)
		}
	}, retry.Context(ctx), retry.Attempts(pollAttempts), retry.Delay(pollDelay),
		retry.DelayType(retry.BackOffDelay), retry.LastErrorOnly(true))
}

// ListForAccount returns the user-level assignments of the given permission
// sets on one account. Group-level assignments are filtered out.
func (p *Provider) ListForAccount(ctx context.Context, accountID string, permissionSetARNs []string) ([]apis.Assignment, error) {
	var assignments []apis.Assignment
	for _, arn := range permissionSetARNs {
		var nextToken *string
		for {
			out, err := p.ssoapi.ListAccountAssignments(ctx, &ssoadmin.ListAccountAssignmentsInput{
				InstanceArn:      aws.String(p.instanceARN),
				AccountId:        aws.String(accountID),
				PermissionSetArn: aws.String(arn),
				NextToken:        nextToken,
			})
			if err != nil {
				return nil, fmt.Errorf("listing assignments on %s for %s, %w", accountID, arn, err)
			}
			for _, a := range out.AccountAssignments {
				if a.PrincipalType != types.PrincipalTypeUser {
					continue
				}
				assignments = append(assignments, apis.Assignment{
					AccountID:        aws.ToString(a.AccountId),
					PermissionSetARN: aws.ToString(a.PermissionSetArn),
					PrincipalID:      aws.ToString(a.PrincipalId),
					PrincipalType:    string(a.PrincipalType),
				})
			}
			if out.NextToken == nil {
				break
			}
			nextToken = out.NextToken
		}
	}
	return assignments, nil
}
