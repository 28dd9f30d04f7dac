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

package reconciler

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/fivexl/sso-elevator/pkg/access"
	"github.com/fivexl/sso-elevator/pkg/apis"
	"github.com/fivexl/sso-elevator/pkg/logging"
	"github.com/fivexl/sso-elevator/pkg/notifications"
	"github.com/fivexl/sso-elevator/pkg/policy"
	"github.com/fivexl/sso-elevator/pkg/providers/account"
	"github.com/fivexl/sso-elevator/pkg/providers/assignment"
	"github.com/fivexl/sso-elevator/pkg/providers/identity"
	"github.com/fivexl/sso-elevator/pkg/providers/permissionset"
	"github.com/fivexl/sso-elevator/pkg/providers/schedule"
)

// Mode selects what a sweep does with the orphans it finds.
type Mode string

const (
	ModeWarn   Mode = "warn"
	ModeRevoke Mode = "revoke"
)

// ReasonReconciler marks audit rows produced by revoke sweeps.
const ReasonReconciler = "reconciler"

// Reconciler is the backstop: it finds user-level assignments and governed
// group memberships that no live revocation schedule covers, and either
// reports them or revokes them. It never touches group-level account
// assignments and never touches groups outside the configuration.
type Reconciler struct {
	cfg            *policy.Configuration
	accounts       *account.Provider
	permissionsets *permissionset.Provider
	assignments    *assignment.Provider
	identity       *identity.Provider
	schedules      *schedule.Provider
	executor       *access.Executor
	notifier       *notifications.Client
	scope          []string
}

func New(cfg *policy.Configuration, accounts *account.Provider, permissionsets *permissionset.Provider,
	assignments *assignment.Provider, identityProvider *identity.Provider, schedules *schedule.Provider,
	executor *access.Executor, notifier *notifications.Client, scope []string) *Reconciler {
	return &Reconciler{
		cfg:            cfg,
		accounts:       accounts,
		permissionsets: permissionsets,
		assignments:    assignments,
		identity:       identityProvider,
		schedules:      schedules,
		executor:       executor,
		notifier:       notifier,
		scope:          scope,
	}
}

// Sweep enumerates orphans and acts on them according to the mode. Failures
// on individual assignments are logged and do not abort the sweep.
func (r *Reconciler) Sweep(ctx context.Context, mode Mode) error {
	log := logging.FromContext(ctx)

	orphanAssignments, orphanMemberships, err := r.findOrphans(ctx)
	if err != nil {
		return err
	}
	if len(orphanAssignments) == 0 && len(orphanMemberships) == 0 {
		log.Infow("sweep found no orphans", "mode", mode)
		return nil
	}

	if mode == ModeWarn {
		return r.warn(ctx, orphanAssignments, orphanMemberships)
	}

	for _, a := range orphanAssignments {
		event := &apis.ScheduledRevokeEvent{
			Assignment: a,
			RequestID:  uuid.NewString(),
		}
		if err := r.executor.RevokeAccount(ctx, event, ReasonReconciler); err != nil {
			log.Errorw("revoking orphaned assignment", "account", a.AccountID, "principal", a.PrincipalID, "error", err)
		}
	}
	for _, m := range orphanMemberships {
		event := &apis.ScheduledGroupRevokeEvent{
			Membership: m,
			RequestID:  uuid.NewString(),
		}
		if err := r.executor.RevokeGroup(ctx, event, ReasonReconciler); err != nil {
			log.Errorw("revoking orphaned membership", "group", m.GroupID, "user", m.UserID, "error", err)
		}
	}
	return nil
}

// findOrphans computes user-level assignments and governed group memberships
// with no governing schedule.
func (r *Reconciler) findOrphans(ctx context.Context) ([]apis.Assignment, []apis.GroupMembership, error) {
	log := logging.FromContext(ctx)

	accountIDs, err := r.accountsInScope(ctx)
	if err != nil {
		return nil, nil, err
	}
	permissionSets, err := r.permissionsets.List(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing permission sets for sweep, %w", err)
	}
	arns := lo.Map(permissionSets, func(ps apis.PermissionSet, _ int) string { return ps.ARN })

	scheduled, err := r.schedules.List(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing schedules for sweep, %w", err)
	}
	governedAssignments := map[apis.Assignment]struct{}{}
	governedMemberships := map[string]struct{}{}
	for _, s := range scheduled {
		if s.Event == nil {
			continue
		}
		switch s.Event.Action {
		case apis.ActionScheduledRevoke:
			governedAssignments[s.Event.ScheduledRevoke.Assignment] = struct{}{}
		case apis.ActionScheduledGroupRevoke:
			m := s.Event.ScheduledGroupRevoke.Membership
			governedMemberships[m.GroupID+"/"+m.UserID] = struct{}{}
		}
	}

	var orphanAssignments []apis.Assignment
	for _, accountID := range accountIDs {
		assignments, err := r.assignments.ListForAccount(ctx, accountID, arns)
		if err != nil {
			log.Errorw("listing assignments for sweep", "account", accountID, "error", err)
			continue
		}
		for _, a := range assignments {
			if _, governed := governedAssignments[a]; !governed {
				orphanAssignments = append(orphanAssignments, a)
			}
		}
	}

	var orphanMemberships []apis.GroupMembership
	for _, groupID := range r.cfg.GroupScope() {
		memberships, err := r.identity.Memberships(ctx, groupID)
		if err != nil {
			log.Errorw("listing memberships for sweep", "group", groupID, "error", err)
			continue
		}
		for _, m := range memberships {
			if _, governed := governedMemberships[m.GroupID+"/"+m.UserID]; !governed {
				orphanMemberships = append(orphanMemberships, m)
			}
		}
	}
	return orphanAssignments, orphanMemberships, nil
}

// accountsInScope expands the configuration to concrete account ids: the
// explicitly referenced accounts, or every account when any statement uses a
// wildcard, optionally intersected with the operator-provided scope.
func (r *Reconciler) accountsInScope(ctx context.Context) ([]string, error) {
	ids, wildcard := r.cfg.AccountScope()
	if wildcard {
		accounts, err := r.accounts.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing accounts for sweep, %w", err)
		}
		ids = lo.Map(accounts, func(a apis.Account, _ int) string { return a.ID })
	}
	if len(r.scope) > 0 {
		ids = lo.Intersect(ids, r.scope)
	}
	return ids, nil
}

func (r *Reconciler) warn(ctx context.Context, assignments []apis.Assignment, memberships []apis.GroupMembership) error {
	var lines []string
	lines = append(lines, ":warning: found access not governed by any revocation schedule:")
	for _, a := range r.nameAssignments(ctx, assignments) {
		subject := fmt.Sprintf("`%s`", a.PrincipalID)
		if a.PrincipalName != "" {
			subject = fmt.Sprintf("`%s` (`%s`)", a.PrincipalName, a.PrincipalID)
		}
		lines = append(lines, fmt.Sprintf("- principal %s has `%s` on account `%s`", subject, a.PermissionSetARN, a.AccountID))
	}
	for _, m := range memberships {
		lines = append(lines, fmt.Sprintf("- user `%s` is a member of governed group `%s`", m.UserID, m.GroupID))
	}
	if err := r.notifier.NotifyChannel(ctx, strings.Join(lines, "\n")); err != nil {
		return fmt.Errorf("posting sweep warning, %w", err)
	}
	return nil
}

// nameAssignments resolves principal ids to directory user names, best effort.
// An unresolvable principal is reported by id alone.
func (r *Reconciler) nameAssignments(ctx context.Context, assignments []apis.Assignment) []apis.UserAssignment {
	log := logging.FromContext(ctx)
	named := make([]apis.UserAssignment, 0, len(assignments))
	for _, a := range assignments {
		ua := apis.UserAssignment{Assignment: a}
		if user, err := r.identity.DescribeUser(ctx, a.PrincipalID); err == nil {
			ua.PrincipalName = user.UserName
		} else {
			log.Debugw("resolving principal name", "principal", a.PrincipalID, "error", err)
		}
		named = append(named, ua)
	}
	return named
}
