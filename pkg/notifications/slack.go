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

package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/slack-go/slack"

	"github.com/fivexl/sso-elevator/pkg/apis"
	"github.com/fivexl/sso-elevator/pkg/logging"
)

// Button action ids on request messages.
const (
	ActionApprove = "approve"
	ActionDeny    = "deny"
)

// SecondaryDomainWarning is attached to every outbound message of a request
// whose principal was resolved through a fallback email domain.
const SecondaryDomainWarning = ":warning: the requester was resolved through a secondary email domain, double-check the identity"

// SlackAPI is the slice of the chat client the adapter needs.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	GetUserByEmailContext(ctx context.Context, email string) (*slack.User, error)
	GetUsersInConversationContext(ctx context.Context, params *slack.GetUsersInConversationParameters) ([]string, string, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
}

// Client composes and delivers every user-facing message. Notification
// failures never block state transitions, callers decide whether to log or
// propagate.
type Client struct {
	api       SlackAPI
	channelID string
	sendDM    bool
}

func NewClient(api SlackAPI, channelID string, sendDM bool) *Client {
	return &Client{
		api:       api,
		channelID: channelID,
		sendDM:    sendDM,
	}
}

func describeResource(req *apis.AccessRequest) string {
	if req.ResourceKind == apis.ResourceKindGroup {
		return fmt.Sprintf("group `%s`", req.Resource)
	}
	if req.AccountName != "" {
		return fmt.Sprintf("`%s` on account `%s` (%s)", req.PermissionSetName, req.AccountName, req.Resource)
	}
	return fmt.Sprintf("`%s` on account `%s`", req.PermissionSetName, req.Resource)
}

func requestHeader(req *apis.AccessRequest) string {
	lines := []string{
		fmt.Sprintf("*%s* requests %s for %s", req.RequesterEmail, describeResource(req), req.Duration),
		fmt.Sprintf("> %s", req.Reason),
		fmt.Sprintf("request id: `%s`", req.RequestID),
	}
	if req.SecondaryDomainWasUsed {
		lines = append(lines, SecondaryDomainWarning)
	}
	return strings.Join(lines, "\n")
}

// PostRequest publishes the request message with approve and deny buttons and
// tags the approvers. The returned thread ref owns the request lifecycle.
func (c *Client) PostRequest(ctx context.Context, req *apis.AccessRequest, approvers []string) (apis.ThreadRef, error) {
	mentions := lo.Map(approvers, func(email string, _ int) string {
		if user, err := c.api.GetUserByEmailContext(ctx, email); err == nil {
			return fmt.Sprintf("<@%s>", user.ID)
		}
		return email
	})
	text := requestHeader(req)
	if len(mentions) > 0 {
		text += "\napprovers: " + strings.Join(mentions, " ")
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
		slack.NewActionBlock("request_actions",
			slack.NewButtonBlockElement(ActionApprove, req.RequestID,
				slack.NewTextBlockObject(slack.PlainTextType, "Approve", false, false)).WithStyle(slack.StylePrimary),
			slack.NewButtonBlockElement(ActionDeny, req.RequestID,
				slack.NewTextBlockObject(slack.PlainTextType, "Deny", false, false)).WithStyle(slack.StyleDanger),
		),
	}
	channel, ts, err := c.api.PostMessageContext(ctx, c.channelID,
		slack.MsgOptionText(text, false), slack.MsgOptionBlocks(blocks...))
	if err != nil {
		return apis.ThreadRef{}, fmt.Errorf("posting request message, %w", err)
	}
	thread := apis.ThreadRef{Channel: channel, Timestamp: ts}
	c.maybeDMRequester(ctx, req, thread)
	return thread, nil
}

// UpdateOutcome rewrites the request message without buttons once a terminal
// decision exists.
func (c *Client) UpdateOutcome(ctx context.Context, req *apis.AccessRequest, outcome string) error {
	text := requestHeader(req) + "\n" + outcome
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
	}
	if _, _, _, err := c.api.UpdateMessageContext(ctx, req.ChatThreadRef.Channel, req.ChatThreadRef.Timestamp,
		slack.MsgOptionText(text, false), slack.MsgOptionBlocks(blocks...)); err != nil {
		return fmt.Errorf("updating request message, %w", err)
	}
	return nil
}

// DiscardButtons rewrites a request message to a plain expiry notice. Used by
// the revoker process, which has no in-memory request to rebuild the header
// from.
func (c *Client) DiscardButtons(ctx context.Context, thread apis.ThreadRef, requestID string) error {
	text := fmt.Sprintf(":hourglass: request `%s` expired without a decision", requestID)
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
	}
	if _, _, _, err := c.api.UpdateMessageContext(ctx, thread.Channel, thread.Timestamp,
		slack.MsgOptionText(text, false), slack.MsgOptionBlocks(blocks...)); err != nil {
		return fmt.Errorf("discarding request buttons, %w", err)
	}
	return nil
}

// PostToThread replies in the request thread.
func (c *Client) PostToThread(ctx context.Context, thread apis.ThreadRef, text string, warn bool) error {
	if warn {
		text += "\n" + SecondaryDomainWarning
	}
	if _, _, err := c.api.PostMessageContext(ctx, thread.Channel,
		slack.MsgOptionText(text, false), slack.MsgOptionTS(thread.Timestamp)); err != nil {
		return fmt.Errorf("posting to thread %s, %w", thread, err)
	}
	return nil
}

// RemindApprovers re-pings the thread while the request is still pending.
func (c *Client) RemindApprovers(ctx context.Context, thread apis.ThreadRef) error {
	return c.PostToThread(ctx, thread, "this request is still waiting for a decision", false)
}

// NotifyChannel posts a standalone message to the main channel, used by the
// reconciler and the syncer for their summaries.
func (c *Client) NotifyChannel(ctx context.Context, text string) error {
	if _, _, err := c.api.PostMessageContext(ctx, c.channelID, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("posting channel notification, %w", err)
	}
	return nil
}

// maybeDMRequester sends the requester a pointer to their request when they
// are not a member of the main channel. Best effort.
func (c *Client) maybeDMRequester(ctx context.Context, req *apis.AccessRequest, thread apis.ThreadRef) {
	if !c.sendDM {
		return
	}
	log := logging.FromContext(ctx)
	user, err := c.api.GetUserByEmailContext(ctx, req.RequesterEmail)
	if err != nil {
		log.Debugw("requester has no chat identity, skipping DM", "email", req.RequesterEmail)
		return
	}
	members, _, err := c.api.GetUsersInConversationContext(ctx, &slack.GetUsersInConversationParameters{
		ChannelID: c.channelID,
	})
	if err != nil || lo.Contains(members, user.ID) {
		return
	}
	conv, _, _, err := c.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users: []string{user.ID},
	})
	if err != nil {
		log.Debugw("opening DM failed", "user", user.ID, "error", err)
		return
	}
	text := fmt.Sprintf("your request `%s` was posted to <#%s>", req.RequestID, c.channelID)
	if req.SecondaryDomainWasUsed {
		text += "\n" + SecondaryDomainWarning
	}
	if _, _, err := c.api.PostMessageContext(ctx, conv.ID, slack.MsgOptionText(text, false)); err != nil {
		log.Debugw("sending DM failed", "user", user.ID, "error", err)
	}
}
