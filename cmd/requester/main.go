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
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/fivexl/sso-elevator/pkg/access"
	"github.com/fivexl/sso-elevator/pkg/apis"
	"github.com/fivexl/sso-elevator/pkg/logging"
	"github.com/fivexl/sso-elevator/pkg/notifications"
	"github.com/fivexl/sso-elevator/pkg/operator"
	"github.com/fivexl/sso-elevator/pkg/operator/options"
)

const (
	commandAccount = "/access"
	commandGroup   = "/group-access"
)

func main() {
	ctx := options.ToContext(context.Background(), options.New().MustParse())
	ctx, op := operator.NewOperator(ctx)
	opts := options.FromContext(ctx)
	log := logging.FromContext(ctx)

	srv := &server{
		ctx:      ctx,
		manager:  op.Manager,
		slackapi: slack.New(opts.SlackBotToken),
		log:      log,
	}

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Route("/slack", func(r chi.Router) {
		r.Use(notifications.SignatureMiddleware(opts.SlackSigningSecret))
		r.Post("/command", srv.handleCommand)
		r.Post("/interact", srv.handleInteraction)
	})

	log.Infow("requester listening", "port", opts.HTTPPort)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", opts.HTTPPort), router); err != nil {
		log.Fatalw("http server stopped", "error", err)
	}
}

type server struct {
	ctx      context.Context
	manager  *access.Manager
	slackapi *slack.Client
	log      *zap.SugaredLogger
}

func (s *server) handleCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := slack.SlashCommandParse(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	email, err := s.callerEmail(cmd.UserID)
	if err != nil {
		s.log.Warnw("resolving caller identity", "user", cmd.UserID, "error", err)
		respondEphemeral(w, "could not resolve your chat identity, ask an administrator to check the bot permissions")
		return
	}
	in, err := parseCommand(cmd.Command, cmd.Text, email)
	if err != nil {
		respondEphemeral(w, err.Error())
		return
	}
	req, err := s.manager.Submit(s.ctx, in)
	switch {
	case errors.Is(err, access.ErrDurationTooLong):
		respondEphemeral(w, "the requested duration exceeds the configured maximum")
	case errors.Is(err, access.ErrDuplicateRequest):
		respondEphemeral(w, "an identical request of yours is already waiting for a decision")
	case err != nil:
		s.log.Errorw("submitting request", "requester", email, "error", err)
		respondEphemeral(w, "the request could not be submitted, try again later")
	case req.State == apis.RequestStateDenied:
		respondEphemeral(w, "this request cannot be approved under the current policy")
	default:
		respondEphemeral(w, fmt.Sprintf("request `%s` submitted, current state: %s", req.RequestID, req.State))
	}
}

func (s *server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	var callback slack.InteractionCallback
	if err := json.Unmarshal([]byte(r.FormValue("payload")), &callback); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	email, err := s.callerEmail(callback.User.ID)
	if err != nil {
		s.log.Warnw("resolving approver identity", "user", callback.User.ID, "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	for _, action := range callback.ActionCallback.BlockActions {
		requestID := action.Value
		switch action.ActionID {
		case notifications.ActionApprove:
			_, err = s.manager.Approve(s.ctx, requestID, email)
		case notifications.ActionDeny:
			_, err = s.manager.Deny(s.ctx, requestID, email)
		default:
			continue
		}
		switch {
		case errors.Is(err, access.ErrNotAllowed):
			s.log.Infow("decision rejected, not an approver", "request_id", requestID, "email", email)
		case errors.Is(err, access.ErrUnknownRequest):
			s.log.Infow("decision on unknown or settled request", "request_id", requestID)
		case err != nil:
			s.log.Errorw("processing decision", "request_id", requestID, "error", err)
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *server) callerEmail(userID string) (string, error) {
	user, err := s.slackapi.GetUserInfoContext(s.ctx, userID)
	if err != nil {
		return "", fmt.Errorf("looking up chat user %q, %w", userID, err)
	}
	if user.Profile.Email == "" {
		return "", fmt.Errorf("chat user %q has no email", userID)
	}
	return user.Profile.Email, nil
}

// parseCommand turns slash command text into a submission.
//
//	/access <account_id> <permission_set> <duration> <reason...>
//	/group-access <group_id> <duration> <reason...>
func parseCommand(command, text, requesterEmail string) (access.SubmitInput, error) {
	fields := strings.Fields(text)
	switch command {
	case commandAccount:
		if len(fields) < 4 {
			return access.SubmitInput{}, fmt.Errorf("usage: %s <account_id> <permission_set> <duration> <reason>", commandAccount)
		}
		duration, err := time.ParseDuration(fields[2])
		if err != nil {
			return access.SubmitInput{}, fmt.Errorf("duration %q is not valid, use forms like 2h or 45m", fields[2])
		}
		return access.SubmitInput{
			RequesterEmail:    requesterEmail,
			Resource:          fields[0],
			ResourceKind:      apis.ResourceKindAccount,
			PermissionSetName: fields[1],
			Duration:          duration,
			Reason:            strings.Join(fields[3:], " "),
		}, nil
	case commandGroup:
		if len(fields) < 3 {
			return access.SubmitInput{}, fmt.Errorf("usage: %s <group_id> <duration> <reason>", commandGroup)
		}
		duration, err := time.ParseDuration(fields[1])
		if err != nil {
			return access.SubmitInput{}, fmt.Errorf("duration %q is not valid, use forms like 2h or 45m", fields[1])
		}
		return access.SubmitInput{
			RequesterEmail: requesterEmail,
			Resource:       fields[0],
			ResourceKind:   apis.ResourceKindGroup,
			Duration:       duration,
			Reason:         strings.Join(fields[2:], " "),
		}, nil
	default:
		return access.SubmitInput{}, fmt.Errorf("unknown command %q", command)
	}
}

func respondEphemeral(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"response_type": "ephemeral",
		"text":          text,
	})
}
