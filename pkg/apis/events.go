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
	"encoding/json"
	"fmt"
	"time"
)

// EventAction discriminates the JSON payloads delivered to the revoker process.
type EventAction string

const (
	ActionScheduledRevoke      EventAction = "scheduled_revoke"
	ActionScheduledGroupRevoke EventAction = "scheduled_group_revoke"
	ActionApproverNotification EventAction = "approver_notification"
	ActionDiscardButtons       EventAction = "discard_buttons"
	ActionCheckInconsistency   EventAction = "check_on_inconsistency"
	ActionScheduledRevocation  EventAction = "scheduled_revocation"
)

// Event is the envelope for every revoker invocation payload.
type Event struct {
	Action EventAction `json:"action"`

	ScheduledRevoke      *ScheduledRevokeEvent      `json:"revoke_event,omitempty"`
	ScheduledGroupRevoke *ScheduledGroupRevokeEvent `json:"group_revoke_event,omitempty"`
	ApproverNotification *ApproverNotificationEvent `json:"approver_notification_event,omitempty"`
	DiscardButtons       *DiscardButtonsEvent       `json:"discard_buttons_event,omitempty"`
}

// ScheduledRevokeEvent fires when an account-level elevation reaches its
// deadline. It carries everything needed to revoke and audit without any
// other state.
type ScheduledRevokeEvent struct {
	Assignment             Assignment `json:"assignment"`
	RequestID              string     `json:"request_id"`
	RequesterEmail         string     `json:"requester_email"`
	ApproverEmail          string     `json:"approver_email,omitempty"`
	PermissionDuration     string     `json:"permission_duration"`
	SecondaryDomainWasUsed bool       `json:"secondary_domain_was_used,omitempty"`
}

// ScheduledGroupRevokeEvent fires when a group elevation reaches its deadline.
type ScheduledGroupRevokeEvent struct {
	Membership             GroupMembership `json:"membership"`
	GroupName              string          `json:"group_name,omitempty"`
	RequestID              string          `json:"request_id"`
	RequesterEmail         string          `json:"requester_email"`
	ApproverEmail          string          `json:"approver_email,omitempty"`
	PermissionDuration     string          `json:"permission_duration"`
	SecondaryDomainWasUsed bool            `json:"secondary_domain_was_used,omitempty"`
}

// ApproverNotificationEvent re-pings the approvers of a still-pending request.
// TimeToWait is the backoff to apply when scheduling the next reminder.
type ApproverNotificationEvent struct {
	RequestID  string        `json:"request_id"`
	Thread     ThreadRef     `json:"thread"`
	TimeToWait time.Duration `json:"time_to_wait"`
}

// DiscardButtonsEvent expires a request that nobody acted on.
type DiscardButtonsEvent struct {
	RequestID string    `json:"request_id"`
	Thread    ThreadRef `json:"thread"`
}

// ParseEvent decodes a revoker payload and checks that the body matching the
// action discriminator is present.
func ParseEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshaling event, %w", err)
	}
	switch e.Action {
	case ActionScheduledRevoke:
		if e.ScheduledRevoke == nil {
			return nil, fmt.Errorf("event %q missing revoke body", e.Action)
		}
	case ActionScheduledGroupRevoke:
		if e.ScheduledGroupRevoke == nil {
			return nil, fmt.Errorf("event %q missing group revoke body", e.Action)
		}
	case ActionApproverNotification:
		if e.ApproverNotification == nil {
			return nil, fmt.Errorf("event %q missing approver notification body", e.Action)
		}
	case ActionDiscardButtons:
		if e.DiscardButtons == nil {
			return nil, fmt.Errorf("event %q missing discard buttons body", e.Action)
		}
	case ActionCheckInconsistency, ActionScheduledRevocation:
		// sweep events carry no body
	default:
		return nil, fmt.Errorf("unknown event action %q", e.Action)
	}
	return &e, nil
}
