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

package access

import (
	"context"
	"fmt"
	"time"

	"github.com/fivexl/sso-elevator/pkg/apis"
	"github.com/fivexl/sso-elevator/pkg/audit"
	"github.com/fivexl/sso-elevator/pkg/logging"
	"github.com/fivexl/sso-elevator/pkg/notifications"
	"github.com/fivexl/sso-elevator/pkg/providers/assignment"
	"github.com/fivexl/sso-elevator/pkg/providers/identity"
	"github.com/fivexl/sso-elevator/pkg/providers/schedule"
)

// Executor performs grants and revocations. Each operation follows a strict
// sequence: mutate the control plane first, then the schedule, then the audit
// trail, then notify. A crash between any two steps is recovered by the
// reconciler.
type Executor struct {
	assignments        *assignment.Provider
	identity           *identity.Provider
	schedules          *schedule.Provider
	auditor            *audit.Writer
	notifier           *notifications.Client
	postUpdateOnRevoke bool
}

func NewExecutor(assignments *assignment.Provider, identity *identity.Provider, schedules *schedule.Provider,
	auditor *audit.Writer, notifier *notifications.Client, postUpdateOnRevoke bool) *Executor {
	return &Executor{
		assignments:        assignments,
		identity:           identity,
		schedules:          schedules,
		auditor:            auditor,
		notifier:           notifier,
		postUpdateOnRevoke: postUpdateOnRevoke,
	}
}

// GrantAccount elevates the user on an account, schedules the revocation, and
// records the grant. On failure no schedule is created and a failure row is
// written so the trail explains the missing revocation.
func (e *Executor) GrantAccount(ctx context.Context, req *apis.AccessRequest, user apis.User, permissionSetARN string) error {
	a := apis.Assignment{
		AccountID:        req.Resource,
		PermissionSetARN: permissionSetARN,
		PrincipalID:      user.ID,
		PrincipalType:    "USER",
	}
	if err := e.assignments.Create(ctx, a); err != nil {
		e.auditor.TryWrite(ctx, e.accountRecord(req, apis.AuditOperationGrant, fmt.Sprintf("grant failed: %v", err), user))
		return fmt.Errorf("granting account access, %w", err)
	}

	name := schedule.NameFor("revoke", a, req.RequestID)
	event := &apis.Event{
		Action: apis.ActionScheduledRevoke,
		ScheduledRevoke: &apis.ScheduledRevokeEvent{
			Assignment:             a,
			RequestID:              req.RequestID,
			RequesterEmail:         req.RequesterEmail,
			ApproverEmail:          req.ApproverEmail,
			PermissionDuration:     req.Duration.String(),
			SecondaryDomainWasUsed: req.SecondaryDomainWasUsed,
		},
	}
	if err := e.schedules.Create(ctx, name, time.Now().Add(req.Duration), event); err != nil {
		e.auditor.TryWrite(ctx, e.accountRecord(req, apis.AuditOperationGrant, fmt.Sprintf("revocation scheduling failed: %v", err), user))
		return fmt.Errorf("scheduling revocation, %w", err)
	}

	e.auditor.TryWrite(ctx, e.accountRecord(req, apis.AuditOperationGrant, req.Reason, user))
	return nil
}

// GrantGroup elevates the user into a group and schedules the membership
// revocation.
func (e *Executor) GrantGroup(ctx context.Context, req *apis.AccessRequest, user apis.User, groupName string) error {
	membership, err := e.identity.CreateMembership(ctx, req.Resource, user.ID)
	if err != nil {
		e.auditor.TryWrite(ctx, e.groupRecord(req, apis.AuditOperationGrant, fmt.Sprintf("grant failed: %v", err), user, groupName))
		return fmt.Errorf("granting group access, %w", err)
	}

	name := schedule.NameFor("group-revoke", membership, req.RequestID)
	event := &apis.Event{
		Action: apis.ActionScheduledGroupRevoke,
		ScheduledGroupRevoke: &apis.ScheduledGroupRevokeEvent{
			Membership:             membership,
			GroupName:              groupName,
			RequestID:              req.RequestID,
			RequesterEmail:         req.RequesterEmail,
			ApproverEmail:          req.ApproverEmail,
			PermissionDuration:     req.Duration.String(),
			SecondaryDomainWasUsed: req.SecondaryDomainWasUsed,
		},
	}
	if err := e.schedules.Create(ctx, name, time.Now().Add(req.Duration), event); err != nil {
		e.auditor.TryWrite(ctx, e.groupRecord(req, apis.AuditOperationGrant, fmt.Sprintf("revocation scheduling failed: %v", err), user, groupName))
		return fmt.Errorf("scheduling group revocation, %w", err)
	}

	e.auditor.TryWrite(ctx, e.groupRecord(req, apis.AuditOperationGrant, req.Reason, user, groupName))
	return nil
}

// RevokeAccount deletes an assignment. Idempotent: an already-absent
// assignment is success and produces no second audit row. The matching
// schedule is removed best effort.
func (e *Executor) RevokeAccount(ctx context.Context, event *apis.ScheduledRevokeEvent, reason string) error {
	deleted, err := e.assignments.Delete(ctx, event.Assignment)
	if err != nil {
		return fmt.Errorf("revoking account access, %w", err)
	}

	name := schedule.NameFor("revoke", event.Assignment, event.RequestID)
	if err := e.schedules.Delete(ctx, name); err != nil {
		logging.FromContext(ctx).Warnw("deleting revocation schedule", "name", name, "error", err)
	}

	if !deleted {
		return nil
	}
	e.auditor.TryWrite(ctx, apis.AuditRecord{
		EntryType:              apis.AuditEntryAccount,
		Operation:              apis.AuditOperationRevoke,
		RequestID:              event.RequestID,
		AccountID:              event.Assignment.AccountID,
		RoleName:               event.Assignment.PermissionSetARN,
		RequesterEmail:         event.RequesterEmail,
		ApproverEmail:          event.ApproverEmail,
		Reason:                 reason,
		PermissionDuration:     event.PermissionDuration,
		SecondaryDomainWasUsed: event.SecondaryDomainWasUsed,
	})
	if e.postUpdateOnRevoke {
		text := fmt.Sprintf("access of %s to account `%s` has been revoked (%s)",
			event.RequesterEmail, event.Assignment.AccountID, reason)
		if err := e.notifier.NotifyChannel(ctx, text); err != nil {
			logging.FromContext(ctx).Warnw("posting revocation notice", "error", err)
		}
	}
	return nil
}

// RevokeGroup deletes a group membership. Same idempotency contract as
// RevokeAccount.
func (e *Executor) RevokeGroup(ctx context.Context, event *apis.ScheduledGroupRevokeEvent, reason string) error {
	deleted, err := e.identity.DeleteMembership(ctx, event.Membership.MembershipID)
	if err != nil {
		return fmt.Errorf("revoking group access, %w", err)
	}

	name := schedule.NameFor("group-revoke", event.Membership, event.RequestID)
	if err := e.schedules.Delete(ctx, name); err != nil {
		logging.FromContext(ctx).Warnw("deleting revocation schedule", "name", name, "error", err)
	}

	if !deleted {
		return nil
	}
	e.auditor.TryWrite(ctx, apis.AuditRecord{
		EntryType:              apis.AuditEntryGroup,
		Operation:              apis.AuditOperationRevoke,
		RequestID:              event.RequestID,
		GroupID:                event.Membership.GroupID,
		GroupName:              event.GroupName,
		RequesterEmail:         event.RequesterEmail,
		ApproverEmail:          event.ApproverEmail,
		Reason:                 reason,
		PermissionDuration:     event.PermissionDuration,
		SecondaryDomainWasUsed: event.SecondaryDomainWasUsed,
	})
	if e.postUpdateOnRevoke {
		text := fmt.Sprintf("membership of %s in group `%s` has been revoked (%s)",
			event.RequesterEmail, event.Membership.GroupID, reason)
		if err := e.notifier.NotifyChannel(ctx, text); err != nil {
			logging.FromContext(ctx).Warnw("posting revocation notice", "error", err)
		}
	}
	return nil
}

func (e *Executor) accountRecord(req *apis.AccessRequest, op apis.AuditOperation, reason string, user apis.User) apis.AuditRecord {
	return apis.AuditRecord{
		EntryType:              apis.AuditEntryAccount,
		Operation:              op,
		RequestID:              req.RequestID,
		AccountID:              req.Resource,
		RoleName:               req.PermissionSetName,
		RequesterEmail:         req.RequesterEmail,
		ApproverEmail:          req.ApproverEmail,
		SSOUserEmail:           user.Email,
		Reason:                 reason,
		PermissionDuration:     req.Duration.String(),
		SecondaryDomainWasUsed: req.SecondaryDomainWasUsed,
	}
}

func (e *Executor) groupRecord(req *apis.AccessRequest, op apis.AuditOperation, reason string, user apis.User, groupName string) apis.AuditRecord {
	return apis.AuditRecord{
		EntryType:              apis.AuditEntryGroup,
		Operation:              op,
		RequestID:              req.RequestID,
		GroupID:                req.Resource,
		GroupName:              groupName,
		RequesterEmail:         req.RequesterEmail,
		ApproverEmail:          req.ApproverEmail,
		SSOUserEmail:           user.Email,
		Reason:                 reason,
		PermissionDuration:     req.Duration.String(),
		SecondaryDomainWasUsed: req.SecondaryDomainWasUsed,
	}
}
