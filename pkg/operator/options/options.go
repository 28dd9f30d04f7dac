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
	"context"
	"errors"
	"flag"
	"os"
	"strings"

	"github.com/fivexl/sso-elevator/pkg/utils/env"
)

type optionsKey struct{}

// Options for running this binary
type Options struct {
	*flag.FlagSet

	// Process
	HTTPPort int    `validate:"gt=0,lte=65535"`
	LogLevel string `validate:"oneof=debug info warn error"`

	// SSO control plane
	SSOInstanceARN    string `validate:"required"`
	IdentityStoreID   string `validate:"required"`
	OrgListingEnabled bool

	// Buckets
	ConfigBucket string `validate:"required"`
	AuditBucket  string `validate:"required"`
	AuditPrefix  string `validate:"required"`
	ConfigKey    string `validate:"required"`

	// Request lifecycle
	MaxPermissionsDurationHours             int     `validate:"gt=0"`
	RequestExpirationHours                  int     `validate:"gt=0"`
	ApproverRenotificationInitialWaitMin    int     `validate:"gte=0"`
	ApproverRenotificationBackoffMultiplier float64 `validate:"gte=1"`

	// Scheduler
	ScheduleGroupName    string `validate:"required"`
	RevokerFunctionARN   string `validate:"required"`
	SchedulerRoleARN     string `validate:"required"`
	ReconcilerSweepScope string

	// Identity resolution
	SecondaryFallbackEmailDomains []string `validate:"dive,fqdn"`

	// Behavior toggles
	SendDMIfUserNotInChannel bool
	PostUpdateOnRevoke       bool
	CacheEnabled             bool

	// Slack
	SlackBotToken      string `validate:"required"`
	SlackSigningSecret string `validate:"required"`
	SlackChannelID     string `validate:"required"`

	// Attribute sync
	SyncPolicy string `validate:"oneof=warn remove"`

	secondaryDomainsRaw *string
}

// New creates an Options struct and registers CLI flags and environment variables to fill-in the Options struct fields
func New() *Options {
	opts := &Options{}
	f := flag.NewFlagSet("sso-elevator", flag.ContinueOnError)
	opts.FlagSet = f

	f.IntVar(&opts.HTTPPort, "http-port", env.WithDefaultInt("HTTP_PORT", 8080), "The port the requester's HTTP ingress binds to")
	f.StringVar(&opts.LogLevel, "log-level", env.WithDefaultString("LOG_LEVEL", "info"), "Log level, one of debug, info, warn, error")

	f.StringVar(&opts.SSOInstanceARN, "sso-instance-arn", env.WithDefaultString("SSO_INSTANCE_ARN", ""), "The ARN of the IAM Identity Center instance")
	f.StringVar(&opts.IdentityStoreID, "identity-store-id", env.WithDefaultString("IDENTITY_STORE_ID", ""), "The identity store backing the SSO instance")
	f.BoolVar(&opts.OrgListingEnabled, "org-listing-enabled", env.WithDefaultBool("ORG_LISTING_ENABLED", true), "If false, account names are not resolved through Organizations")

	f.StringVar(&opts.ConfigBucket, "config-bucket", env.WithDefaultString("CONFIG_BUCKET", ""), "The bucket holding the approval configuration and the listing cache")
	f.StringVar(&opts.AuditBucket, "audit-bucket", env.WithDefaultString("AUDIT_BUCKET", ""), "The bucket receiving audit records")
	f.StringVar(&opts.AuditPrefix, "audit-prefix", env.WithDefaultString("AUDIT_PREFIX", "audit"), "The key prefix under which audit records are written")
	f.StringVar(&opts.ConfigKey, "config-key", env.WithDefaultString("CONFIG_KEY", "config/approval-config.json"), "The key of the approval configuration document")

	f.IntVar(&opts.MaxPermissionsDurationHours, "max-permissions-duration-hours", env.WithDefaultInt("MAX_PERMISSIONS_DURATION_HOURS", 24), "The longest elevation a request may ask for")
	f.IntVar(&opts.RequestExpirationHours, "request-expiration-hours", env.WithDefaultInt("REQUEST_EXPIRATION_HOURS", 8), "Pending requests expire after this many hours")
	f.IntVar(&opts.ApproverRenotificationInitialWaitMin, "approver-renotification-initial-wait-minutes", env.WithDefaultInt("APPROVER_RENOTIFICATION_INITIAL_WAIT_MINUTES", 15), "First reminder delay for pending requests, 0 disables reminders")
	f.Float64Var(&opts.ApproverRenotificationBackoffMultiplier, "approver-renotification-backoff-multiplier", env.WithDefaultFloat64("APPROVER_RENOTIFICATION_BACKOFF_MULTIPLIER", 2), "Each reminder waits this factor longer than the previous one")

	f.StringVar(&opts.ScheduleGroupName, "schedule-group-name", env.WithDefaultString("SCHEDULE_GROUP_NAME", "sso-elevator"), "The scheduler group holding every one-shot job")
	f.StringVar(&opts.RevokerFunctionARN, "revoker-function-arn", env.WithDefaultString("REVOKER_FUNCTION_ARN", ""), "The target invoked when a schedule fires")
	f.StringVar(&opts.SchedulerRoleARN, "scheduler-role-arn", env.WithDefaultString("SCHEDULER_ROLE_ARN", ""), "The role the scheduler assumes to invoke the revoker")
	f.StringVar(&opts.ReconcilerSweepScope, "reconciler-sweep-scope", env.WithDefaultString("RECONCILER_SWEEP_SCOPE", ""), "Optional comma-separated account ids limiting reconciler sweeps")

	secondaryDomains := f.String("secondary-fallback-email-domains", strings.Join(env.WithDefaultStringSlice("SECONDARY_FALLBACK_EMAIL_DOMAINS", nil), ","), "Alternate email domains tried when a requester's email is not found in the directory")

	f.BoolVar(&opts.SendDMIfUserNotInChannel, "send-dm-if-user-not-in-channel", env.WithDefaultBool("SEND_DM_IF_USER_NOT_IN_CHANNEL", true), "DM requesters who are not members of the main channel")
	f.BoolVar(&opts.PostUpdateOnRevoke, "post-update-on-revoke", env.WithDefaultBool("POST_UPDATE_ON_REVOKE", false), "Post to the request thread when the revocation fires")
	f.BoolVar(&opts.CacheEnabled, "cache-enabled", env.WithDefaultBool("CACHE_ENABLED", true), "Enable the S3 listing cache")

	f.StringVar(&opts.SlackBotToken, "slack-bot-token", env.WithDefaultString("SLACK_BOT_TOKEN", ""), "Slack bot token")
	f.StringVar(&opts.SlackSigningSecret, "slack-signing-secret", env.WithDefaultString("SLACK_SIGNING_SECRET", ""), "Slack signing secret for inbound request verification")
	f.StringVar(&opts.SlackChannelID, "slack-channel-id", env.WithDefaultString("SLACK_CHANNEL_ID", ""), "The channel where requests are posted")

	f.StringVar(&opts.SyncPolicy, "sync-policy", env.WithDefaultString("SYNC_POLICY", "warn"), "What the attribute syncer does with manual memberships, warn or remove")

	opts.secondaryDomainsRaw = secondaryDomains
	return opts
}

// setSecondaryDomains splits the raw flag value once Parse has run.
func (o *Options) setSecondaryDomains() {
	if o.secondaryDomainsRaw == nil || strings.TrimSpace(*o.secondaryDomainsRaw) == "" {
		o.SecondaryFallbackEmailDomains = nil
		return
	}
	var out []string
	for _, part := range strings.Split(*o.secondaryDomainsRaw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	o.SecondaryFallbackEmailDomains = out
}

// MustParse reads the user passed flags, environment variables, and default values.
// Options are validated and panics if an error is returned
func (o *Options) MustParse() *Options {
	err := o.Parse(os.Args[1:])

	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		panic(err)
	}
	o.setSecondaryDomains()
	if err := o.Validate(); err != nil {
		panic(err)
	}
	return o
}

// ToContext stores the parsed options on the context.
func ToContext(ctx context.Context, opts *Options) context.Context {
	return context.WithValue(ctx, optionsKey{}, opts)
}

// FromContext returns the options stored on the context. Panics when the
// operator failed to inject them, which is a programming error.
func FromContext(ctx context.Context) *Options {
	opts, ok := ctx.Value(optionsKey{}).(*Options)
	if !ok {
		panic("options not injected into context")
	}
	return opts
}
