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
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fivexl/sso-elevator/pkg/apis"
	"github.com/fivexl/sso-elevator/pkg/logging"
	"github.com/fivexl/sso-elevator/pkg/operator"
	"github.com/fivexl/sso-elevator/pkg/operator/options"
	"github.com/fivexl/sso-elevator/pkg/providers/schedule"
	"github.com/fivexl/sso-elevator/pkg/reconciler"
)

// reasonScheduled marks audit rows produced by schedules firing on time.
const reasonScheduled = "scheduled revocation"

// status is the exit report consumed by the orchestrator.
type status struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors"`
}

func main() {
	ctx := options.ToContext(context.Background(), options.New().MustParse())
	ctx, op := operator.NewOperator(ctx)
	log := logging.FromContext(ctx)

	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		exit(fmt.Errorf("reading event payload, %w", err))
	}
	event, err := apis.ParseEvent(payload)
	if err != nil {
		exit(fmt.Errorf("parsing event payload, %w", err))
	}
	log.Infow("handling event", "action", event.Action)

	switch event.Action {
	case apis.ActionScheduledRevoke:
		err = op.Executor.RevokeAccount(ctx, event.ScheduledRevoke, reasonScheduled)
	case apis.ActionScheduledGroupRevoke:
		err = op.Executor.RevokeGroup(ctx, event.ScheduledGroupRevoke, reasonScheduled)
	case apis.ActionApproverNotification:
		err = remind(ctx, op, event.ApproverNotification)
	case apis.ActionDiscardButtons:
		err = discard(ctx, op, event.DiscardButtons)
	case apis.ActionCheckInconsistency:
		err = op.Reconciler.Sweep(ctx, reconciler.ModeWarn)
	case apis.ActionScheduledRevocation:
		err = op.Reconciler.Sweep(ctx, reconciler.ModeRevoke)
	}
	exit(err)
}

// remind re-pings the approvers and schedules the next reminder with the
// backoff the previous one carried.
func remind(ctx context.Context, op *operator.Operator, e *apis.ApproverNotificationEvent) error {
	opts := options.FromContext(ctx)
	if err := op.Notifier.RemindApprovers(ctx, e.Thread); err != nil {
		return err
	}
	next := &apis.Event{
		Action: apis.ActionApproverNotification,
		ApproverNotification: &apis.ApproverNotificationEvent{
			RequestID:  e.RequestID,
			Thread:     e.Thread,
			TimeToWait: time.Duration(float64(e.TimeToWait) * opts.ApproverRenotificationBackoffMultiplier),
		},
	}
	name := schedule.NameFor("notify", e.Thread, e.RequestID)
	return op.Schedules.Create(ctx, name, time.Now().Add(e.TimeToWait), next)
}

// discard expires a request nobody acted on: the buttons disappear and the
// reminder chain is cut.
func discard(ctx context.Context, op *operator.Operator, e *apis.DiscardButtonsEvent) error {
	if err := op.Notifier.DiscardButtons(ctx, e.Thread, e.RequestID); err != nil {
		return err
	}
	return op.Schedules.Delete(ctx, schedule.NameFor("notify", e.Thread, e.RequestID))
}

func exit(err error) {
	report := status{OK: err == nil}
	if err != nil {
		report.Errors = []string{err.Error()}
	}
	_ = json.NewEncoder(os.Stdout).Encode(report)
	if err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}
