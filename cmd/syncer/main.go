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

package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/fivexl/sso-elevator/pkg/logging"
	"github.com/fivexl/sso-elevator/pkg/operator"
	"github.com/fivexl/sso-elevator/pkg/operator/options"
)

// status is the exit report consumed by the orchestrator.
type status struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors"`
}

func main() {
	ctx := options.ToContext(context.Background(), options.New().MustParse())
	ctx, op := operator.NewOperator(ctx)
	log := logging.FromContext(ctx)

	result, err := op.Syncer.Run(ctx)

	report := status{OK: err == nil && len(result.Failures) == 0}
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
	}
	for _, failure := range result.Failures {
		report.Errors = append(report.Errors, failure.Error())
	}
	log.Infow("sync run complete", "ok", report.OK,
		"added", result.Added, "removed", result.Removed, "warned", result.Warned)
	_ = json.NewEncoder(os.Stdout).Encode(report)
	if !report.OK {
		os.Exit(1)
	}
}
