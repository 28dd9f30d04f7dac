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

package policy

// Permit is the evaluator's verdict.
type Permit string

const (
	PermitAuto          Permit = "auto"
	PermitNeedsApproval Permit = "needs_approval"
	PermitDeny          Permit = "deny"
)

// Reason explains a verdict to the requester and the audit trail.
type Reason string

const (
	ReasonApprovalNotRequired Reason = "ApprovalNotRequired"
	ReasonSelfApproval        Reason = "SelfApproval"
	ReasonRequiresApproval    Reason = "RequiresApproval"
	ReasonNoStatements        Reason = "NoStatements"
	ReasonNoApprovers         Reason = "NoApprovers"
)

// Decision is the pure output of evaluating a request against the
// configuration. It performs no I/O and has no hidden inputs.
type Decision struct {
	Permit              Permit
	Reason              Reason
	Approvers           []string
	AllowSelfApproval   bool
	ApprovalNotRequired bool
}

// Unsatisfiable reports a legal but unusable decision: the only people able
// to approve are the requester themselves and self-approval is denied.
func (d Decision) Unsatisfiable(requesterEmail string) bool {
	if d.Permit != PermitNeedsApproval || d.AllowSelfApproval {
		return false
	}
	for _, approver := range d.Approvers {
		if approver != requesterEmail {
			return false
		}
	}
	return true
}

// flags aggregates the three-valued statement flags. An explicit false in any
// matching statement dominates a true elsewhere.
type flags struct {
	anyTrue       bool
	explicitFalse bool
}

func (f *flags) observe(v *bool) {
	if v == nil {
		return
	}
	if *v {
		f.anyTrue = true
	} else {
		f.explicitFalse = true
	}
}

func (f flags) value() bool {
	return f.anyTrue && !f.explicitFalse
}

// Evaluate decides an account-level request. Aggregation runs over every
// matching statement: approvers by union, the boolean flags by any-true with
// explicit-deny dominance.
func Evaluate(cfg *Configuration, accountID, permissionSetName, requesterEmail string) Decision {
	approvers := StringSet{}
	var allowSelf, notRequired flags
	matched := false
	for _, s := range cfg.Statements {
		if !s.Affects(accountID, permissionSetName) {
			continue
		}
		matched = true
		for approver := range s.Approvers {
			approvers[approver] = struct{}{}
		}
		allowSelf.observe(s.AllowSelfApproval)
		notRequired.observe(s.ApprovalNotRequired)
	}
	return decide(matched, approvers, allowSelf, notRequired, requesterEmail)
}

// EvaluateGroup decides a group-membership request.
func EvaluateGroup(cfg *Configuration, groupID, requesterEmail string) Decision {
	approvers := StringSet{}
	var allowSelf, notRequired flags
	matched := false
	for _, s := range cfg.GroupStatements {
		if !s.Affects(groupID) {
			continue
		}
		matched = true
		for approver := range s.Approvers {
			approvers[approver] = struct{}{}
		}
		allowSelf.observe(s.AllowSelfApproval)
		notRequired.observe(s.ApprovalNotRequired)
	}
	return decide(matched, approvers, allowSelf, notRequired, requesterEmail)
}

func decide(matched bool, approvers StringSet, allowSelf, notRequired flags, requesterEmail string) Decision {
	d := Decision{
		Approvers:           approvers.Values(),
		AllowSelfApproval:   allowSelf.value(),
		ApprovalNotRequired: notRequired.value(),
	}
	switch {
	case !matched:
		d.Permit, d.Reason = PermitDeny, ReasonNoStatements
	case d.ApprovalNotRequired:
		d.Permit, d.Reason = PermitAuto, ReasonApprovalNotRequired
	case d.AllowSelfApproval && approvers.Has(requesterEmail):
		d.Permit, d.Reason = PermitAuto, ReasonSelfApproval
	case len(approvers) > 0:
		d.Permit, d.Reason = PermitNeedsApproval, ReasonRequiresApproval
	default:
		d.Permit, d.Reason = PermitDeny, ReasonNoApprovers
	}
	return d
}

// CanApprove re-validates an approval click against the decision that put the
// request in front of the approvers. A requester may approve their own
// request only when the aggregate allows self-approval.
func CanApprove(d Decision, approverEmail, requesterEmail string) bool {
	found := false
	for _, approver := range d.Approvers {
		if approver == approverEmail {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	if approverEmail == requesterEmail {
		return d.AllowSelfApproval
	}
	return true
}
