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

package operator

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/identitystore"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	"github.com/aws/aws-sdk-go-v2/service/ssoadmin"
	"github.com/slack-go/slack"

	"github.com/fivexl/sso-elevator/pkg/access"
	"github.com/fivexl/sso-elevator/pkg/audit"
	listingcache "github.com/fivexl/sso-elevator/pkg/cache"
	"github.com/fivexl/sso-elevator/pkg/logging"
	"github.com/fivexl/sso-elevator/pkg/notifications"
	"github.com/fivexl/sso-elevator/pkg/operator/options"
	"github.com/fivexl/sso-elevator/pkg/policy"
	"github.com/fivexl/sso-elevator/pkg/providers/account"
	"github.com/fivexl/sso-elevator/pkg/providers/assignment"
	"github.com/fivexl/sso-elevator/pkg/providers/identity"
	"github.com/fivexl/sso-elevator/pkg/providers/permissionset"
	"github.com/fivexl/sso-elevator/pkg/providers/schedule"
	"github.com/fivexl/sso-elevator/pkg/reconciler"
	groupsync "github.com/fivexl/sso-elevator/pkg/sync"
)

const sdkMaxAttempts = 5

// Operator is the composition root shared by every process. It holds the
// AWS clients, the providers built on them, and the domain services wired
// from the parsed options and the approval configuration.
type Operator struct {
	Config aws.Config

	Configuration  *policy.Configuration
	Accounts       *account.Provider
	PermissionSets *permissionset.Provider
	Assignments    *assignment.Provider
	Identity       *identity.Provider
	Schedules      *schedule.Provider
	Auditor        *audit.Writer
	Notifier       *notifications.Client
	Executor       *access.Executor
	Manager        *access.Manager
	Reconciler     *reconciler.Reconciler
	Syncer         *groupsync.Syncer
}

// NewOperator loads the AWS configuration and the approval document, builds
// every provider and service, and injects the logger into the returned
// context. A configuration that fails to load is fatal: serving with a stale
// or absent policy is worse than not serving.
func NewOperator(ctx context.Context) (context.Context, *Operator) {
	opts := options.FromContext(ctx)
	logger := logging.NewLogger("sso-elevator", opts.LogLevel)
	ctx = logging.ToContext(ctx, logger)

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = sdkMaxAttempts
			})
		}),
	)
	if err != nil {
		logger.Fatalw("loading AWS configuration", "error", err)
	}

	ssoapi := ssoadmin.NewFromConfig(cfg)
	idsapi := identitystore.NewFromConfig(cfg)
	orgapi := organizations.NewFromConfig(cfg)
	schapi := scheduler.NewFromConfig(cfg)
	s3api := s3.NewFromConfig(cfg)
	slackapi := slack.New(opts.SlackBotToken)

	notifier := notifications.NewClient(slackapi, opts.SlackChannelID, opts.SendDMIfUserNotInChannel)

	configuration, err := policy.NewLoader(s3api, opts.ConfigBucket, opts.ConfigKey).Load(ctx)
	if err != nil {
		// operators are told before the process refuses to serve
		if nerr := notifier.NotifyChannel(ctx, fmt.Sprintf(":rotating_light: approval configuration failed to load: %v", err)); nerr != nil {
			logger.Errorw("posting configuration failure notice", "error", nerr)
		}
		logger.Fatalw("loading approval configuration", "bucket", opts.ConfigBucket, "key", opts.ConfigKey, "error", err)
	}

	listing := listingcache.NewCache(s3api, opts.ConfigBucket, opts.CacheEnabled)
	accounts := account.NewProvider(orgapi, listing)
	permissionSets := permissionset.NewProvider(ssoapi, listing, opts.SSOInstanceARN)
	assignments := assignment.NewProvider(ssoapi, opts.SSOInstanceARN)
	identityProvider := identity.NewProvider(idsapi, opts.IdentityStoreID, opts.SecondaryFallbackEmailDomains)
	schedules := schedule.NewProvider(schapi, opts.ScheduleGroupName, opts.RevokerFunctionARN, opts.SchedulerRoleARN)
	auditor := audit.NewWriter(s3api, opts.AuditBucket, opts.AuditPrefix)

	executor := access.NewExecutor(assignments, identityProvider, schedules, auditor, notifier, opts.PostUpdateOnRevoke)
	var managerAccounts *account.Provider
	if opts.OrgListingEnabled {
		managerAccounts = accounts
	}
	manager := access.NewManager(configuration, executor, identityProvider, permissionSets, managerAccounts, schedules, notifier, access.Config{
		MaxDuration:        time.Duration(opts.MaxPermissionsDurationHours) * time.Hour,
		Expiration:         time.Duration(opts.RequestExpirationHours) * time.Hour,
		ReminderInitial:    time.Duration(opts.ApproverRenotificationInitialWaitMin) * time.Minute,
		ReminderMultiplier: opts.ApproverRenotificationBackoffMultiplier,
	})

	return ctx, &Operator{
		Config:         cfg,
		Configuration:  configuration,
		Accounts:       accounts,
		PermissionSets: permissionSets,
		Assignments:    assignments,
		Identity:       identityProvider,
		Schedules:      schedules,
		Auditor:        auditor,
		Notifier:       notifier,
		Executor:       executor,
		Manager:        manager,
		Reconciler: reconciler.New(configuration, accounts, permissionSets, assignments, identityProvider,
			schedules, executor, notifier, opts.SweepScope()),
		Syncer: groupsync.New(configuration, identityProvider, auditor, notifier, groupsync.Policy(opts.SyncPolicy)),
	}
}
