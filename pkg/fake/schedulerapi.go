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

package fake

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"

	sdk "github.com/fivexl/sso-elevator/pkg/aws/sdk"
)

// SchedulerBehavior must be reset between tests otherwise tests will
// pollute each other.
type SchedulerBehavior struct {
	CreateScheduleBehavior MockedFunction[scheduler.CreateScheduleInput, scheduler.CreateScheduleOutput]
	DeleteScheduleBehavior MockedFunction[scheduler.DeleteScheduleInput, scheduler.DeleteScheduleOutput]
	GetScheduleBehavior    MockedFunction[scheduler.GetScheduleInput, scheduler.GetScheduleOutput]
	ListSchedulesBehavior  MockedFunction[scheduler.ListSchedulesInput, scheduler.ListSchedulesOutput]
}

type SchedulerAPI struct {
	sdk.SchedulerAPI
	SchedulerBehavior
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (s *SchedulerAPI) Reset() {
	s.CreateScheduleBehavior.Reset()
	s.DeleteScheduleBehavior.Reset()
	s.GetScheduleBehavior.Reset()
	s.ListSchedulesBehavior.Reset()
}

func (s *SchedulerAPI) CreateSchedule(_ context.Context, input *scheduler.CreateScheduleInput, _ ...func(*scheduler.Options)) (*scheduler.CreateScheduleOutput, error) {
	return s.CreateScheduleBehavior.Invoke(input, func(in *scheduler.CreateScheduleInput) (*scheduler.CreateScheduleOutput, error) {
		return &scheduler.CreateScheduleOutput{
			ScheduleArn: aws.String(fmt.Sprintf("arn:aws:scheduler:us-east-1:000000000000:schedule/%s/%s",
				aws.ToString(in.GroupName), aws.ToString(in.Name))),
		}, nil
	})
}

func (s *SchedulerAPI) DeleteSchedule(_ context.Context, input *scheduler.DeleteScheduleInput, _ ...func(*scheduler.Options)) (*scheduler.DeleteScheduleOutput, error) {
	return s.DeleteScheduleBehavior.Invoke(input, func(_ *scheduler.DeleteScheduleInput) (*scheduler.DeleteScheduleOutput, error) {
		return &scheduler.DeleteScheduleOutput{}, nil
	})
}

func (s *SchedulerAPI) GetSchedule(_ context.Context, input *scheduler.GetScheduleInput, _ ...func(*scheduler.Options)) (*scheduler.GetScheduleOutput, error) {
	return s.GetScheduleBehavior.Invoke(input, func(in *scheduler.GetScheduleInput) (*scheduler.GetScheduleOutput, error) {
		return &scheduler.GetScheduleOutput{
			Name:      in.Name,
			GroupName: in.GroupName,
		}, nil
	})
}

func (s *SchedulerAPI) ListSchedules(_ context.Context, input *scheduler.ListSchedulesInput, _ ...func(*scheduler.Options)) (*scheduler.ListSchedulesOutput, error) {
	return s.ListSchedulesBehavior.Invoke(input, func(_ *scheduler.ListSchedulesInput) (*scheduler.ListSchedulesOutput, error) {
		return &scheduler.ListSchedulesOutput{}, nil
	})
}
