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
	"sync"

	"github.com/slack-go/slack"
)

// SlackMessage is a flattened record of an outbound chat call. Text holds the
// message text plus any serialized blocks so tests can assert on content.
type SlackMessage struct {
	Channel   string
	Timestamp string
	Text      string
}

// SlackAPI records every outbound chat call. Must be reset between tests
// otherwise tests will pollute each other.
type SlackAPI struct {
	mu sync.Mutex

	Messages []SlackMessage
	Updates  []SlackMessage

	UsersByEmail   map[string]*slack.User
	ChannelMembers map[string][]string
	PostError      AtomicError

	nextTS int
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (s *SlackAPI) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = nil
	s.Updates = nil
	s.UsersByEmail = nil
	s.ChannelMembers = nil
	s.PostError.Reset()
	s.nextTS = 0
}

// AddUser registers a resolvable chat user.
func (s *SlackAPI) AddUser(email, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UsersByEmail == nil {
		s.UsersByEmail = map[string]*slack.User{}
	}
	s.UsersByEmail[email] = &slack.User{ID: id, Profile: slack.UserProfile{Email: email}}
}

func renderOptions(channelID string, options ...slack.MsgOption) string {
	_, values, err := slack.UnsafeApplyMsgOptions("token", channelID, "https://slack.com/api/", options...)
	if err != nil {
		return ""
	}
	return values.Get("text") + values.Get("blocks") + values.Get("attachments")
}

func (s *SlackAPI) PostMessageContext(_ context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	if err := s.PostError.Get(); err != nil {
		return "", "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTS++
	ts := fmt.Sprintf("1700000000.%06d", s.nextTS)
	s.Messages = append(s.Messages, SlackMessage{
		Channel:   channelID,
		Timestamp: ts,
		Text:      renderOptions(channelID, options...),
	})
	return channelID, ts, nil
}

func (s *SlackAPI) UpdateMessageContext(_ context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error) {
	if err := s.PostError.Get(); err != nil {
		return "", "", "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Updates = append(s.Updates, SlackMessage{
		Channel:   channelID,
		Timestamp: timestamp,
		Text:      renderOptions(channelID, options...),
	})
	return channelID, timestamp, timestamp, nil
}

func (s *SlackAPI) GetUserByEmailContext(_ context.Context, email string) (*slack.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.UsersByEmail[email]; ok {
		return user, nil
	}
	return nil, fmt.Errorf("users_not_found")
}

func (s *SlackAPI) GetUsersInConversationContext(_ context.Context, params *slack.GetUsersInConversationParameters) ([]string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ChannelMembers[params.ChannelID], "", nil
}

func (s *SlackAPI) OpenConversationContext(_ context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error) {
	channel := &slack.Channel{}
	if len(params.Users) > 0 {
		channel.ID = "D" + params.Users[0]
	}
	return channel, false, false, nil
}

// AllText returns the concatenated text of every message and update, for
// content assertions.
func (s *SlackAPI) AllText() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.Messages {
		out = append(out, m.Text)
	}
	for _, m := range s.Updates {
		out = append(out, m.Text)
	}
	return out
}
