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
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"

	sdk "github.com/fivexl/sso-elevator/pkg/aws/sdk"
)

var validate = validator.New()

// Configuration is the immutable parsed approval document. It is loaded once
// per invocation and shared read-only.
type Configuration struct {
	Statements      []Statement      `json:"statements"`
	GroupStatements []GroupStatement `json:"group_statements"`

	// Attribute sync. The syncer only ever touches groups named here.
	ManagedGroups []string      `json:"attribute_sync_managed_groups"`
	MappingRules  []MappingRule `json:"attribute_sync_rules"`
}

// AccountScope returns the explicit account ids referenced by account
// statements and whether any statement carries a wildcard.
func (c *Configuration) AccountScope() (ids []string, wildcard bool) {
	seen := StringSet{}
	for _, s := range c.Statements {
		for id := range s.Resources {
			if id == Wildcard {
				wildcard = true
				continue
			}
			seen[id] = struct{}{}
		}
	}
	return seen.Values(), wildcard
}

// GroupScope returns every group id referenced by group statements.
func (c *Configuration) GroupScope() []string {
	seen := StringSet{}
	for _, s := range c.GroupStatements {
		for id := range s.Resources {
			seen[id] = struct{}{}
		}
	}
	return seen.Values()
}

// Loader fetches and parses the approval configuration document.
type Loader struct {
	s3api  sdk.S3API
	bucket string
	key    string
}

func NewLoader(s3api sdk.S3API, bucket, key string) *Loader {
	return &Loader{
		s3api:  s3api,
		bucket: bucket,
		key:    key,
	}
}

func (l *Loader) Load(ctx context.Context) (*Configuration, error) {
	out, err := l.s3api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(l.key),
	})
	if err != nil {
		return nil, fmt.Errorf("getting approval configuration %q, %w", l.key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading approval configuration %q, %w", l.key, err)
	}
	return Parse(data)
}

// Parse decodes and validates the configuration document. Malformed entries
// fail loading with a descriptive error.
func Parse(data []byte) (*Configuration, error) {
	cfg := &Configuration{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling approval configuration, %w", err)
	}
	var errs error
	for i, s := range cfg.Statements {
		if len(s.Resources) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("statement %d has no resources", i))
		}
		if len(s.PermissionSets) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("statement %d has no permission sets", i))
		}
		errs = multierr.Append(errs, validateApprovers(fmt.Sprintf("statement %d", i), s.Approvers))
	}
	for i, s := range cfg.GroupStatements {
		if len(s.Resources) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("group statement %d has no resources", i))
		}
		if s.Resources.Has(Wildcard) {
			errs = multierr.Append(errs, fmt.Errorf("group statement %d uses a wildcard, group ids must be explicit", i))
		}
		errs = multierr.Append(errs, validateApprovers(fmt.Sprintf("group statement %d", i), s.Approvers))
	}
	managed := map[string]struct{}{}
	for _, name := range cfg.ManagedGroups {
		managed[name] = struct{}{}
	}
	for i, r := range cfg.MappingRules {
		if len(r.Conditions) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("mapping rule %d has no conditions", i))
		}
		if _, ok := managed[r.Group]; !ok {
			errs = multierr.Append(errs, fmt.Errorf("mapping rule %d targets %q, which is not a managed group", i, r.Group))
		}
	}
	if errs != nil {
		return nil, errs
	}
	return cfg, nil
}

func validateApprovers(subject string, approvers StringSet) error {
	var errs error
	for approver := range approvers {
		if err := validate.Var(approver, "email"); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s approver %q is not a valid email", subject, approver))
		}
	}
	return errs
}
