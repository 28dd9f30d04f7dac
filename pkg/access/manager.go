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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/fivexl/sso-elevator/pkg/apis"
	"github.com/fivexl/sso-elevator/pkg/logging"
	"github.com/fivexl/sso-elevator/pkg/notifications"
	"github.com/fivexl/sso-elevator/pkg/policy"
	"github.com/fivexl/sso-elevator/pkg/providers/account"
	"github.com/fivexl/sso-elevator/pkg/providers/identity"
	"github.com/fivexl/sso-elevator/pkg/providers/permissionset"
	"github.com/fivexl/sso-elevator/pkg/providers/schedule"
)

var (
	ErrUnknownRequest   = errors.New("unknown or no longer pending request")
	ErrNotAllowed       = errors.New("approver is not allowed to decide this request")
	ErrDurationTooLong  = errors.New("requested duration exceeds the configured maximum")
	ErrDuplicateRequest = errors.New("an identical request is already in flight")
)

// SubmitInput is a parsed form submission.
type SubmitInput struct {
	RequesterEmail    string
	Resource          string
	ResourceKind      apis.ResourceKind
	PermissionSetName string
	Reason            string
	Duration          time.Duration
}

// Config carries the request lifecycle knobs.
type Config struct {
	MaxDuration        time.Duration
	Expiration         time.Duration
	ReminderInitial    time.Duration
	ReminderMultiplier float64
}

type pendingRequest struct {
	req      *apis.AccessRequest
	decision policy.Decision
	user     apis.User
}

// settledRetention is how long a terminally transitioned request stays in
// memory, so a late button click resolves to a no-op instead of an
// unknown-request error.
const settledRetention = 15 * time.Minute

// Manager is the request state machine. Pending requests live in memory, the
// authoritative lifecycle facts are the chat thread and the audit log. Every
// transition is keyed by request id and unknown events are no-ops, so UI
// retries are harmless.
type Manager struct {
	cfg            *policy.Configuration
	executor       *Executor
	identity       *identity.Provider
	permissionsets *permissionset.Provider
	accounts       *account.Provider
	schedules      *schedule.Provider
	notifier       *notifications.Client
	config         Config

	pending  *cache.Cache
	inflight *cache.Cache
}

// NewManager wires the state machine. A nil accounts provider disables
// account name resolution in outbound messages.
func NewManager(cfg *policy.Configuration, executor *Executor, identityProvider *identity.Provider,
	permissionsets *permissionset.Provider, accounts *account.Provider, schedules *schedule.Provider,
	notifier *notifications.Client, config Config) *Manager {
	return &Manager{
		cfg:            cfg,
		executor:       executor,
		identity:       identityProvider,
		permissionsets: permissionsets,
		accounts:       accounts,
		schedules:      schedules,
		notifier:       notifier,
		config:         config,
		pending:        cache.New(2*config.Expiration, config.Expiration),
		inflight:       cache.New(config.Expiration, 2*config.Expiration),
	}
}

func inflightKey(in SubmitInput) string {
	return fmt.Sprintf("%s|%s|%s", in.RequesterEmail, in.Resource, in.PermissionSetName)
}

// Submit runs a new request through evaluation. Auto-permits are granted
// immediately, everything else is posted to the approvers. Denied requests
// are returned in state Denied with the polite refusal already delivered.
func (m *Manager) Submit(ctx context.Context, in SubmitInput) (*apis.AccessRequest, error) {
	if in.Duration <= 0 || in.Duration > m.config.MaxDuration {
		return nil, ErrDurationTooLong
	}
	if _, exists := m.inflight.Get(inflightKey(in)); exists {
		return nil, ErrDuplicateRequest
	}

	user, secondaryUsed, err := m.identity.UserByEmail(ctx, in.RequesterEmail)
	if err != nil {
		return nil, fmt.Errorf("resolving requester, %w", err)
	}

	req := &apis.AccessRequest{
		RequestID:              uuid.NewString(),
		RequesterEmail:         in.RequesterEmail,
		Resource:               in.Resource,
		ResourceKind:           in.ResourceKind,
		PermissionSetName:      in.PermissionSetName,
		Reason:                 in.Reason,
		Duration:               in.Duration,
		CreatedAt:              time.Now().UTC(),
		State:                  apis.RequestStatePending,
		SecondaryDomainWasUsed: secondaryUsed,
	}
	if in.ResourceKind == apis.ResourceKindAccount && m.accounts != nil {
		if acct, err := m.accounts.Describe(ctx, in.Resource); err == nil {
			req.AccountName = acct.Name
		} else {
			logging.FromContext(ctx).Debugw("resolving account name", "account", in.Resource, "error", err)
		}
	}

	var decision policy.Decision
	if in.ResourceKind == apis.ResourceKindGroup {
		decision = policy.EvaluateGroup(m.cfg, in.Resource, in.RequesterEmail)
	} else {
		decision = policy.Evaluate(m.cfg, in.Resource, in.PermissionSetName, in.RequesterEmail)
	}

	if decision.Permit == policy.PermitDeny {
		req.State = apis.RequestStateDenied
		text := fmt.Sprintf("request from %s for %s was declined: %s",
			in.RequesterEmail, in.Resource, decision.Reason)
		if err := m.notifier.NotifyChannel(ctx, text); err != nil {
			logging.FromContext(ctx).Warnw("posting refusal", "error", err)
		}
		return req, nil
	}

	thread, err := m.notifier.PostRequest(ctx, req, decision.Approvers)
	if err != nil {
		return nil, fmt.Errorf("publishing request, %w", err)
	}
	req.ChatThreadRef = thread

	if decision.Unsatisfiable(in.RequesterEmail) {
		if err := m.notifier.PostToThread(ctx, thread,
			"nobody can approve this request: the only approver is the requester and self-approval is not allowed", false); err != nil {
			logging.FromContext(ctx).Warnw("posting unsatisfiable notice", "error", err)
		}
	}

	m.scheduleExpiry(ctx, req)
	if decision.Permit == policy.PermitNeedsApproval && m.config.ReminderInitial > 0 {
		m.scheduleReminder(ctx, req, m.config.ReminderInitial)
	}

	m.pending.SetDefault(req.RequestID, &pendingRequest{req: req, decision: decision, user: user})
	m.inflight.SetDefault(inflightKey(in), req.RequestID)

	if decision.Permit == policy.PermitAuto {
		return m.Approve(ctx, req.RequestID, in.RequesterEmail)
	}
	return req, nil
}

// Approve moves a pending request to Approved and runs the grant. The click
// is re-validated against the decision that was published with the request.
// Requests in any other state are returned unchanged.
func (m *Manager) Approve(ctx context.Context, requestID, approverEmail string) (*apis.AccessRequest, error) {
	p, ok := m.lookup(requestID)
	if !ok {
		return nil, ErrUnknownRequest
	}
	if p.req.State != apis.RequestStatePending {
		return p.req, nil
	}
	auto := p.decision.Permit == policy.PermitAuto && approverEmail == p.req.RequesterEmail
	if !auto && !policy.CanApprove(p.decision, approverEmail, p.req.RequesterEmail) {
		return p.req, ErrNotAllowed
	}

	p.req.State = apis.RequestStateApproved
	p.req.ApproverEmail = approverEmail

	var grantErr error
	if p.req.ResourceKind == apis.ResourceKindGroup {
		group, err := m.identity.DescribeGroup(ctx, p.req.Resource)
		if err != nil {
			grantErr = err
		} else {
			grantErr = m.executor.GrantGroup(ctx, p.req, p.user, group.Name)
		}
	} else {
		ps, err := m.permissionsets.ByName(ctx, p.req.PermissionSetName)
		if err != nil {
			grantErr = err
		} else {
			grantErr = m.executor.GrantAccount(ctx, p.req, p.user, ps.ARN)
		}
	}

	if grantErr != nil {
		p.req.State = apis.RequestStateFailed
		m.finish(ctx, p, fmt.Sprintf(":x: approved by %s but the grant failed", approverEmail))
		return p.req, fmt.Errorf("granting request %s, %w", requestID, grantErr)
	}
	p.req.State = apis.RequestStateGranted
	m.finish(ctx, p, fmt.Sprintf(":white_check_mark: approved by %s, access granted for %s", approverEmail, p.req.Duration))
	return p.req, nil
}

// Deny moves a pending request to Denied.
func (m *Manager) Deny(ctx context.Context, requestID, approverEmail string) (*apis.AccessRequest, error) {
	p, ok := m.lookup(requestID)
	if !ok {
		return nil, ErrUnknownRequest
	}
	if p.req.State != apis.RequestStatePending {
		return p.req, nil
	}
	if !policy.CanApprove(p.decision, approverEmail, p.req.RequesterEmail) && approverEmail != p.req.RequesterEmail {
		return p.req, ErrNotAllowed
	}
	p.req.State = apis.RequestStateDenied
	p.req.ApproverEmail = approverEmail
	m.finish(ctx, p, fmt.Sprintf(":no_entry: denied by %s", approverEmail))
	return p.req, nil
}

// Expire moves a pending request to Expired. Fired by the wall-clock expiry
// schedule, so process restarts never extend a request's life.
func (m *Manager) Expire(ctx context.Context, requestID string) (*apis.AccessRequest, error) {
	p, ok := m.lookup(requestID)
	if !ok {
		return nil, ErrUnknownRequest
	}
	if p.req.State != apis.RequestStatePending {
		return p.req, nil
	}
	p.req.State = apis.RequestStateExpired
	m.finish(ctx, p, ":hourglass: nobody decided in time, the request expired")
	return p.req, nil
}

// Get returns the in-memory request, if any.
func (m *Manager) Get(requestID string) (*apis.AccessRequest, bool) {
	p, ok := m.lookup(requestID)
	if !ok {
		return nil, false
	}
	return p.req, true
}

func (m *Manager) lookup(requestID string) (*pendingRequest, bool) {
	v, ok := m.pending.Get(requestID)
	if !ok {
		return nil, false
	}
	return v.(*pendingRequest), true
}

// finish updates the chat message, clears the duplicate guard and the
// lifecycle schedules of a terminally transitioned request. The entry itself
// is kept for a short retention window, then evicted.
func (m *Manager) finish(ctx context.Context, p *pendingRequest, outcome string) {
	log := logging.FromContext(ctx)
	if err := m.notifier.UpdateOutcome(ctx, p.req, outcome); err != nil {
		log.Warnw("updating request message", "request_id", p.req.RequestID, "error", err)
	}
	m.pending.Set(p.req.RequestID, p, settledRetention)
	m.inflight.Delete(fmt.Sprintf("%s|%s|%s", p.req.RequesterEmail, p.req.Resource, p.req.PermissionSetName))
	for _, kind := range []string{"expire", "notify"} {
		name := schedule.NameFor(kind, p.req.ChatThreadRef, p.req.RequestID)
		if err := m.schedules.Delete(ctx, name); err != nil {
			log.Debugw("deleting lifecycle schedule", "name", name, "error", err)
		}
	}
}

func (m *Manager) scheduleExpiry(ctx context.Context, req *apis.AccessRequest) {
	name := schedule.NameFor("expire", req.ChatThreadRef, req.RequestID)
	event := &apis.Event{
		Action: apis.ActionDiscardButtons,
		DiscardButtons: &apis.DiscardButtonsEvent{
			RequestID: req.RequestID,
			Thread:    req.ChatThreadRef,
		},
	}
	if err := m.schedules.Create(ctx, name, req.CreatedAt.Add(m.config.Expiration), event); err != nil {
		logging.FromContext(ctx).Warnw("scheduling request expiry", "request_id", req.RequestID, "error", err)
	}
}

func (m *Manager) scheduleReminder(ctx context.Context, req *apis.AccessRequest, wait time.Duration) {
	name := schedule.NameFor("notify", req.ChatThreadRef, req.RequestID)
	next := time.Duration(float64(wait) * m.config.ReminderMultiplier)
	event := &apis.Event{
		Action: apis.ActionApproverNotification,
		ApproverNotification: &apis.ApproverNotificationEvent{
			RequestID:  req.RequestID,
			Thread:     req.ChatThreadRef,
			TimeToWait: next,
		},
	}
	if err := m.schedules.Create(ctx, name, time.Now().Add(wait), event); err != nil {
		logging.FromContext(ctx).Warnw("scheduling approver reminder", "request_id", req.RequestID, "error", err)
	}
}
