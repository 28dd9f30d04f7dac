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

package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	"github.com/aws/aws-sdk-go-v2/service/scheduler/types"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/samber/lo"

	"github.com/fivexl/sso-elevator/pkg/apis"
	sdk "github.com/fivexl/sso-elevator/pkg/aws/sdk"
	awserrors "github.com/fivexl/sso-elevator/pkg/errors"
	"github.com/fivexl/sso-elevator/pkg/logging"
)

// scheduler names are capped at 64 characters
const maxNameLen = 64

const namePrefix = "sso-elevator"

// Scheduled is a live one-shot job together with its decoded payload. Event
// is nil when the payload is not one of ours.
type Scheduled struct {
	Name  string
	Event *apis.Event
}

// Provider wraps the external one-shot scheduler. Names are deterministic so
// a retried grant finds its own earlier schedule instead of creating a second
// one.
type Provider struct {
	schapi    sdk.SchedulerAPI
	groupName string
	targetARN string
	roleARN   string
}

func NewProvider(schapi sdk.SchedulerAPI, groupName, targetARN, roleARN string) *Provider {
	return &Provider{
		schapi:    schapi,
		groupName: groupName,
		targetARN: targetARN,
		roleARN:   roleARN,
	}
}

// NameFor derives the deterministic schedule name from the job kind, the
// governed identity and the request id.
func NameFor(kind string, identity any, requestID string) string {
	hash := lo.Must(hashstructure.Hash(struct {
		Identity  any
		RequestID string
	}{Identity: identity, RequestID: requestID}, hashstructure.FormatV2, nil))
	name := fmt.Sprintf("%s-%s-%d", namePrefix, kind, hash)
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return name
}

// Create registers a one-shot job firing at the given time with the event as
// payload. A schedule that already exists under the same name is success.
func (p *Provider) Create(ctx context.Context, name string, at time.Time, event *apis.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling schedule payload, %w", err)
	}
	_, err = p.schapi.CreateSchedule(ctx, &scheduler.CreateScheduleInput{
		Name:                       aws.String(name),
		GroupName:                  aws.String(p.groupName),
		ScheduleExpression:         aws.String(fmt.Sprintf("at(%s)", at.UTC().Format("2006-01-02T15:04:05"))),
		ScheduleExpressionTimezone: aws.String("UTC"),
		ActionAfterCompletion:      types.ActionAfterCompletionDelete,
		FlexibleTimeWindow: &types.FlexibleTimeWindow{
			Mode: types.FlexibleTimeWindowModeOff,
		},
		Target: &types.Target{
			Arn:     aws.String(p.targetARN),
			RoleArn: aws.String(p.roleARN),
			Input:   aws.String(string(payload)),
		},
	})
	if err != nil {
		if awserrors.IsAlreadyExists(err) {
			logging.FromContext(ctx).Debugw("schedule already exists", "name", name)
			return nil
		}
		return fmt.Errorf("creating schedule %q, %w", name, err)
	}
	return nil
}

// Delete cancels a job by name. A missing schedule is success.
func (p *Provider) Delete(ctx context.Context, name string) error {
	_, err := p.schapi.DeleteSchedule(ctx, &scheduler.DeleteScheduleInput{
		Name:      aws.String(name),
		GroupName: aws.String(p.groupName),
	})
	if awserrors.IgnoreNotFound(err) != nil {
		return fmt.Errorf("deleting schedule %q, %w", name, err)
	}
	return nil
}

// List returns every live schedule in the group with its decoded payload.
// Summaries do not carry the payload, so each schedule is fetched
// individually. Undecodable payloads are kept with a nil Event so callers can
// still see the name.
func (p *Provider) List(ctx context.Context) ([]Scheduled, error) {
	var names []string
	var nextToken *string
	for {
		out, err := p.schapi.ListSchedules(ctx, &scheduler.ListSchedulesInput{
			GroupName: aws.String(p.groupName),
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("listing schedules in group %q, %w", p.groupName, err)
		}
		for _, s := range out.Schedules {
			names = append(names, aws.ToString(s.Name))
		}
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}

	var scheduled []Scheduled
	for _, name := range names {
		out, err := p.schapi.GetSchedule(ctx, &scheduler.GetScheduleInput{
			Name:      aws.String(name),
			GroupName: aws.String(p.groupName),
		})
		if err != nil {
			if awserrors.IsNotFound(err) {
				// fired and self-deleted between the list and the get
				continue
			}
			return nil, fmt.Errorf("getting schedule %q, %w", name, err)
		}
		entry := Scheduled{Name: name}
		if out.Target != nil && out.Target.Input != nil {
			if event, err := apis.ParseEvent([]byte(aws.ToString(out.Target.Input))); err == nil {
				entry.Event = event
			} else {
				logging.FromContext(ctx).Debugw("skipping foreign schedule payload", "name", name)
			}
		}
		scheduled = append(scheduled, entry)
	}
	return scheduled, nil
}
