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

package apis

import (
	"fmt"
	"time"
)

// Account is an AWS account known to the organization.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PermissionSet is an IAM Identity Center permission set.
type PermissionSet struct {
	Name        string `json:"name"`
	ARN         string `json:"arn"`
	Description string `json:"description,omitempty"`
}

// User is a principal in the identity store. Attributes carries the flattened
// directory attributes used by attribute mapping rules.
type User struct {
	ID         string            `json:"id"`
	UserName   string            `json:"user_name"`
	Email      string            `json:"email"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Group is a group in the identity store.
type Group struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// GroupMembership ties a user to a group. MembershipID is the identity store's
// own handle and is required for deletion.
type GroupMembership struct {
	MembershipID string `json:"membership_id"`
	GroupID      string `json:"group_id"`
	UserID       string `json:"user_id"`
}

// Assignment is an account-level permission set assignment for a principal.
type Assignment struct {
	AccountID        string `json:"account_id"`
	PermissionSetARN string `json:"permission_set_arn"`
	PrincipalID      string `json:"principal_id"`
	PrincipalType    string `json:"principal_type"`
}

// UserAssignment pairs an Assignment with the resolved principal name, used by
// the reconciler when reporting orphans.
type UserAssignment struct {
	Assignment
	PrincipalName string `json:"principal_name,omitempty"`
}

// RequestState is the lifecycle state of an access request.
type RequestState string

const (
	RequestStatePending  RequestState = "Pending"
	RequestStateApproved RequestState = "Approved"
	RequestStateDenied   RequestState = "Denied"
	RequestStateExpired  RequestState = "Expired"
	RequestStateGranted  RequestState = "Granted"
	RequestStateRevoked  RequestState = "Revoked"
	RequestStateFailed   RequestState = "Failed"
)

// ResourceKind discriminates account requests from group requests.
type ResourceKind string

const (
	ResourceKindAccount ResourceKind = "account"
	ResourceKindGroup   ResourceKind = "group"
)

// AccessRequest is a single elevation request moving through the state machine.
type AccessRequest struct {
	RequestID         string        `json:"request_id"`
	RequesterEmail    string        `json:"requester_email"`
	Resource          string        `json:"resource"`
	ResourceKind      ResourceKind  `json:"resource_kind"`
	AccountName       string        `json:"account_name,omitempty"`
	PermissionSetName string        `json:"permission_set_name,omitempty"`
	Reason            string        `json:"reason"`
	Duration          time.Duration `json:"duration"`
	CreatedAt         time.Time     `json:"created_at"`
	State             RequestState  `json:"state"`
	ApproverEmail     string        `json:"approver_email,omitempty"`
	ChatThreadRef     ThreadRef     `json:"chat_thread_ref"`
	// SecondaryDomainWasUsed is set when the requester's principal was only
	// resolvable through a fallback email domain.
	SecondaryDomainWasUsed bool `json:"secondary_domain_was_used,omitempty"`
}

// ThreadRef locates the chat message that owns a request's lifecycle.
type ThreadRef struct {
	Channel   string `json:"channel"`
	Timestamp string `json:"ts"`
}

func (t ThreadRef) String() string {
	return fmt.Sprintf("%s/%s", t.Channel, t.Timestamp)
}
