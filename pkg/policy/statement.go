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

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Wildcard matches every account or permission set in scope.
const Wildcard = "*"

// StringSet is a set of strings that unmarshals from either a single JSON
// string or an array of strings.
type StringSet map[string]struct{}

func NewStringSet(values ...string) StringSet {
	s := StringSet{}
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

func (s StringSet) Has(value string) bool {
	_, ok := s[value]
	return ok
}

// Values returns the members in sorted order for deterministic output.
func (s StringSet) Values() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (s *StringSet) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = NewStringSet(single)
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or list of strings, got %s", string(data))
	}
	*s = NewStringSet(many...)
	return nil
}

func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Values())
}

// Statement grants account-level elevation rights. AllowSelfApproval and
// ApprovalNotRequired are three-valued: nil means the statement does not take
// a position, an explicit false is a deny that dominates any true elsewhere.
type Statement struct {
	ResourceType        string    `json:"resource_type,omitempty"`
	Resources           StringSet `json:"resource"`
	PermissionSets      StringSet `json:"permission_set"`
	Approvers           StringSet `json:"approvers,omitempty"`
	AllowSelfApproval   *bool     `json:"allow_self_approval,omitempty"`
	ApprovalNotRequired *bool     `json:"approval_is_not_required,omitempty"`
}

// Affects reports whether the statement covers the account and permission set.
func (s Statement) Affects(accountID, permissionSetName string) bool {
	return (s.Resources.Has(accountID) || s.Resources.Has(Wildcard)) &&
		(s.PermissionSets.Has(permissionSetName) || s.PermissionSets.Has(Wildcard))
}

// GroupStatement grants group-membership elevation rights. Group ids are
// explicit, there is no wildcard form.
type GroupStatement struct {
	Resources           StringSet `json:"resource"`
	Approvers           StringSet `json:"approvers,omitempty"`
	AllowSelfApproval   *bool     `json:"allow_self_approval,omitempty"`
	ApprovalNotRequired *bool     `json:"approval_is_not_required,omitempty"`
}

// Affects reports whether the statement covers the group.
func (s GroupStatement) Affects(groupID string) bool {
	return s.Resources.Has(groupID)
}
