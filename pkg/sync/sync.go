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

package sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/fivexl/sso-elevator/pkg/apis"
	"github.com/fivexl/sso-elevator/pkg/audit"
	"github.com/fivexl/sso-elevator/pkg/logging"
	"github.com/fivexl/sso-elevator/pkg/notifications"
	"github.com/fivexl/sso-elevator/pkg/policy"
	"github.com/fivexl/sso-elevator/pkg/providers/identity"
)

// Policy selects what happens to memberships of managed groups that no
// mapping rule justifies.
type Policy string

const (
	PolicyWarn   Policy = "warn"
	PolicyRemove Policy = "remove"
)

// maxReportedErrors caps the error list in the summary notification.
const maxReportedErrors = 5

// Result summarizes one sync run.
type Result struct {
	Added    int
	Removed  int
	Warned   int
	Failures []error
}

// Syncer drives directory group memberships from user attributes. It only
// ever reads or modifies the groups named as managed in the configuration,
// everything else in the directory is out of bounds.
type Syncer struct {
	cfg      *policy.Configuration
	identity *identity.Provider
	auditor  *audit.Writer
	notifier *notifications.Client
	policy   Policy
}

func New(cfg *policy.Configuration, identityProvider *identity.Provider, auditor *audit.Writer,
	notifier *notifications.Client, p Policy) *Syncer {
	return &Syncer{
		cfg:      cfg,
		identity: identityProvider,
		auditor:  auditor,
		notifier: notifier,
		policy:   p,
	}
}

// Run performs one full sync pass. Per-user and per-group failures are
// collected, logged, and do not abort the run. The returned error covers only
// the listings without which nothing can be computed.
func (s *Syncer) Run(ctx context.Context) (Result, error) {
	log := logging.FromContext(ctx)
	result := Result{}
	if len(s.cfg.ManagedGroups) == 0 {
		return result, nil
	}
	runID := uuid.NewString()

	groupIDs, err := s.resolveManagedGroups(ctx)
	if err != nil {
		return result, err
	}
	users, err := s.identity.ListUsers(ctx)
	if err != nil {
		return result, fmt.Errorf("listing users for sync, %w", err)
	}
	usersByID := lo.KeyBy(users, func(u apis.User) string { return u.ID })

	// desired maps group name to the users a rule places there, with the
	// attributes that justified the placement
	desired := map[string]map[string]map[string]string{}
	for _, rule := range s.cfg.MappingRules {
		for _, user := range users {
			if matched, ok := rule.Matches(user.Attributes); ok {
				if desired[rule.Group] == nil {
					desired[rule.Group] = map[string]map[string]string{}
				}
				desired[rule.Group][user.ID] = matched
			}
		}
	}

	for _, groupName := range s.cfg.ManagedGroups {
		groupID, ok := groupIDs[groupName]
		if !ok {
			result.Failures = append(result.Failures, fmt.Errorf("managed group %q not found in the directory", groupName))
			continue
		}
		s.syncGroup(ctx, runID, groupName, groupID, desired[groupName], usersByID, &result)
	}

	s.notifySummary(ctx, result)
	log.Infow("sync run finished", "run_id", runID,
		"added", result.Added, "removed", result.Removed, "warned", result.Warned, "failures", len(result.Failures))
	return result, nil
}

// resolveManagedGroups maps managed group names to directory ids.
func (s *Syncer) resolveManagedGroups(ctx context.Context) (map[string]string, error) {
	groups, err := s.identity.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing groups for sync, %w", err)
	}
	managed := map[string]string{}
	for _, g := range groups {
		if lo.Contains(s.cfg.ManagedGroups, g.Name) {
			managed[g.Name] = g.ID
		}
	}
	return managed, nil
}

func (s *Syncer) syncGroup(ctx context.Context, runID, groupName, groupID string,
	wanted map[string]map[string]string, usersByID map[string]apis.User, result *Result) {
	log := logging.FromContext(ctx)

	memberships, err := s.identity.Memberships(ctx, groupID)
	if err != nil {
		result.Failures = append(result.Failures, fmt.Errorf("listing memberships of %q, %w", groupName, err))
		return
	}
	current := lo.KeyBy(memberships, func(m apis.GroupMembership) string { return m.UserID })

	for userID, matched := range wanted {
		if _, member := current[userID]; member {
			continue
		}
		if _, err := s.identity.CreateMembership(ctx, groupID, userID); err != nil {
			result.Failures = append(result.Failures, fmt.Errorf("adding %q to %q, %w", userID, groupName, err))
			log.Errorw("sync add failed", "group", groupName, "user", userID, "error", err)
			continue
		}
		result.Added++
		s.auditor.TryWrite(ctx, s.record(apis.AuditEntrySyncAdd, apis.AuditOperationGrant, runID,
			groupName, groupID, usersByID[userID], "attributes match mapping rule", matched))
	}

	for userID, membership := range current {
		if _, ok := wanted[userID]; ok {
			continue
		}
		if s.policy == PolicyWarn {
			result.Warned++
			s.auditor.TryWrite(ctx, s.record(apis.AuditEntryManualDetected, apis.AuditOperationDetect, runID,
				groupName, groupID, usersByID[userID], "membership not justified by any mapping rule", nil))
			continue
		}
		if _, err := s.identity.DeleteMembership(ctx, membership.MembershipID); err != nil {
			result.Failures = append(result.Failures, fmt.Errorf("removing %q from %q, %w", userID, groupName, err))
			log.Errorw("sync remove failed", "group", groupName, "user", userID, "error", err)
			continue
		}
		result.Removed++
		s.auditor.TryWrite(ctx, s.record(apis.AuditEntrySyncRemove, apis.AuditOperationRevoke, runID,
			groupName, groupID, usersByID[userID], "membership not justified by any mapping rule", nil))
	}
}

func (s *Syncer) record(entry apis.AuditEntryType, op apis.AuditOperation, runID, groupName, groupID string,
	user apis.User, reason string, matched map[string]string) apis.AuditRecord {
	return apis.AuditRecord{
		EntryType:         entry,
		Operation:         op,
		RequestID:         runID,
		GroupName:         groupName,
		GroupID:           groupID,
		SSOUserEmail:      user.Email,
		Reason:            reason,
		MatchedAttributes: matched,
	}
}

func (s *Syncer) notifySummary(ctx context.Context, result Result) {
	if result.Added == 0 && result.Removed == 0 && result.Warned == 0 && len(result.Failures) == 0 {
		return
	}
	lines := []string{fmt.Sprintf("attribute sync: %d added, %d removed, %d manual memberships detected",
		result.Added, result.Removed, result.Warned)}
	for i, err := range result.Failures {
		if i == maxReportedErrors {
			lines = append(lines, fmt.Sprintf("... and %d more failures", len(result.Failures)-maxReportedErrors))
			break
		}
		lines = append(lines, fmt.Sprintf(":x: %v", err))
	}
	if err := s.notifier.NotifyChannel(ctx, strings.Join(lines, "\n")); err != nil {
		logging.FromContext(ctx).Warnw("posting sync summary", "error", err)
	}
}
