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

import "time"

// AuditEntryType classifies the subject of an audit record.
type AuditEntryType string

const (
	AuditEntryAccount        AuditEntryType = "account"
	AuditEntryGroup          AuditEntryType = "group"
	AuditEntrySyncAdd        AuditEntryType = "sync_add"
	AuditEntrySyncRemove     AuditEntryType = "sync_remove"
	AuditEntryManualDetected AuditEntryType = "manual_detected"
)

// AuditOperation classifies what was done.
type AuditOperation string

const (
	AuditOperationGrant  AuditOperation = "grant"
	AuditOperationRevoke AuditOperation = "revoke"
	AuditOperationDetect AuditOperation = "detect"
)

// AuditRecordVersion is bumped when the record schema changes. Readers must
// tolerate unknown fields and absent optional fields.
const AuditRecordVersion = 2

// AuditRecord is a single append-only audit entry. Exactly one of the
// account-shaped or group-shaped field pairs is populated depending on
// AuditEntryType.
type AuditRecord struct {
	Version   int            `json:"version"`
	Timestamp time.Time      `json:"timestamp"`
	EntryType AuditEntryType `json:"audit_entry_type"`
	Operation AuditOperation `json:"operation_type"`
	RequestID string         `json:"request_id"`

	RoleName  string `json:"role_name,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	GroupName string `json:"group_name,omitempty"`
	GroupID   string `json:"group_id,omitempty"`

	RequesterEmail     string `json:"requester_email,omitempty"`
	ApproverEmail      string `json:"approver_email,omitempty"`
	SSOUserEmail       string `json:"sso_user_email,omitempty"`
	Reason             string `json:"reason,omitempty"`
	PermissionDuration string `json:"permission_duration,omitempty"`

	MatchedAttributes      map[string]string `json:"matched_attributes,omitempty"`
	SecondaryDomainWasUsed bool              `json:"secondary_domain_was_used"`
}
