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

package options

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/multierr"
)

var validate = validator.New()

func (o *Options) Validate() error {
	return multierr.Combine(
		o.validateTags(),
		o.validateDurations(),
		o.validateSweepScope(),
	)
}

func (o *Options) validateTags() error {
	if err := validate.Struct(o); err != nil {
		var errs error
		for _, fieldErr := range err.(validator.ValidationErrors) {
			errs = multierr.Append(errs, fmt.Errorf("field %s failed %q validation", fieldErr.Field(), fieldErr.Tag()))
		}
		return errs
	}
	return nil
}

func (o *Options) validateDurations() error {
	if o.RequestExpirationHours > o.MaxPermissionsDurationHours*24 {
		return fmt.Errorf("request-expiration-hours %d is implausibly large", o.RequestExpirationHours)
	}
	return nil
}

func (o *Options) validateSweepScope() error {
	if o.ReconcilerSweepScope == "" {
		return nil
	}
	for _, id := range strings.Split(o.ReconcilerSweepScope, ",") {
		id = strings.TrimSpace(id)
		if len(id) != 12 {
			return fmt.Errorf("reconciler-sweep-scope entry %q is not a 12-digit account id", id)
		}
		for _, r := range id {
			if r < '0' || r > '9' {
				return fmt.Errorf("reconciler-sweep-scope entry %q is not a 12-digit account id", id)
			}
		}
	}
	return nil
}

// SweepScope returns the parsed reconciler account scope, nil meaning all accounts.
func (o *Options) SweepScope() []string {
	if o.ReconcilerSweepScope == "" {
		return nil
	}
	var out []string
	for _, id := range strings.Split(o.ReconcilerSweepScope, ",") {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
