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

// MappingRule maps directory users into a managed group by their attributes.
// Conditions are exact case-sensitive string comparisons combined by AND. A
// user missing any referenced attribute never matches.
type MappingRule struct {
	Group      string            `json:"group"`
	Conditions map[string]string `json:"conditions"`
}

// Matches reports whether the attributes satisfy every condition and returns
// the matched subset for the audit trail.
func (r MappingRule) Matches(attrs map[string]string) (map[string]string, bool) {
	matched := make(map[string]string, len(r.Conditions))
	for name, expected := range r.Conditions {
		actual, ok := attrs[name]
		if !ok || actual != expected {
			return nil, false
		}
		matched[name] = actual
	}
	return matched, true
}
