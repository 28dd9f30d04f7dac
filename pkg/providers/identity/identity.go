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

package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/identitystore"
	"github.com/aws/aws-sdk-go-v2/service/identitystore/types"
	"github.com/patrickmn/go-cache"

	"github.com/fivexl/sso-elevator/pkg/apis"
	sdk "github.com/fivexl/sso-elevator/pkg/aws/sdk"
	awserrors "github.com/fivexl/sso-elevator/pkg/errors"
	"github.com/fivexl/sso-elevator/pkg/logging"
)

// Provider wraps the identity store: user and group lookups, membership
// listing, and membership create/delete. Lookups are memoized in process
// because a single request resolves the same principals repeatedly.
type Provider struct {
	idsapi          sdk.IdentityStoreAPI
	identityStoreID string
	fallbackDomains []string
	memo            *cache.Cache
}

func NewProvider(idsapi sdk.IdentityStoreAPI, identityStoreID string, fallbackDomains []string) *Provider {
	return &Provider{
		idsapi:          idsapi,
		identityStoreID: identityStoreID,
		fallbackDomains: fallbackDomains,
		memo:            cache.New(15*time.Minute, 30*time.Minute),
	}
}

// UserByEmail resolves a directory user by UserName = email. When the primary
// email misses and fallback domains are configured, each alternate domain is
// tried in turn. The returned flag reports that a fallback domain was needed,
// so callers can surface the warning everywhere the request is visible.
func (p *Provider) UserByEmail(ctx context.Context, email string) (apis.User, bool, error) {
	user, err := p.findByUserName(ctx, email)
	if err == nil {
		return user, false, nil
	}
	if !isUserNotFound(err) || len(p.fallbackDomains) == 0 {
		return apis.User{}, false, err
	}
	local, _, ok := strings.Cut(email, "@")
	if !ok {
		return apis.User{}, false, err
	}
	for _, domain := range p.fallbackDomains {
		candidate := local + "@" + domain
		user, ferr := p.findByUserName(ctx, candidate)
		if ferr == nil {
			logging.FromContext(ctx).Warnw("resolved user through secondary email domain",
				"requested", email, "resolved", candidate)
			return user, true, nil
		}
		if !isUserNotFound(ferr) {
			return apis.User{}, false, ferr
		}
	}
	return apis.User{}, false, fmt.Errorf("user %q not found, fallback domains exhausted", email)
}

func isUserNotFound(err error) bool {
	return awserrors.IsNotFound(err) || strings.Contains(err.Error(), "not found")
}

func (p *Provider) findByUserName(ctx context.Context, userName string) (apis.User, error) {
	if cached, ok := p.memo.Get("user/" + userName); ok {
		return cached.(apis.User), nil
	}
	out, err := p.idsapi.ListUsers(ctx, &identitystore.ListUsersInput{
		IdentityStoreId: aws.String(p.identityStoreID),
		Filters: []types.Filter{{
			AttributePath:  aws.String("UserName"),
			AttributeValue: aws.String(userName),
		}},
	})
	if err != nil {
		return apis.User{}, fmt.Errorf("searching user %q, %w", userName, err)
	}
	if len(out.Users) == 0 {
		return apis.User{}, fmt.Errorf("user %q not found", userName)
	}
	user := toUser(out.Users[0])
	p.memo.SetDefault("user/"+userName, user)
	return user, nil
}

// ListUsers returns every directory user with flattened attributes.
func (p *Provider) ListUsers(ctx context.Context) ([]apis.User, error) {
	var users []apis.User
	var nextToken *string
	for {
		out, err := p.idsapi.ListUsers(ctx, &identitystore.ListUsersInput{
			IdentityStoreId: aws.String(p.identityStoreID),
			NextToken:       nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("listing users, %w", err)
		}
		for _, u := range out.Users {
			users = append(users, toUser(u))
		}
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}
	return users, nil
}

// DescribeUser resolves a single user by id, memoized. Used to put names on
// principals in sweep reports, where only the id is known.
func (p *Provider) DescribeUser(ctx context.Context, userID string) (apis.User, error) {
	if cached, ok := p.memo.Get("user-id/" + userID); ok {
		return cached.(apis.User), nil
	}
	out, err := p.idsapi.DescribeUser(ctx, &identitystore.DescribeUserInput{
		IdentityStoreId: aws.String(p.identityStoreID),
		UserId:          aws.String(userID),
	})
	if err != nil {
		return apis.User{}, fmt.Errorf("describing user %q, %w", userID, err)
	}
	user := apis.User{
		ID:       aws.ToString(out.UserId),
		UserName: aws.ToString(out.UserName),
	}
	for _, email := range out.Emails {
		if email.Primary || user.Email == "" {
			user.Email = aws.ToString(email.Value)
		}
	}
	p.memo.SetDefault("user-id/"+userID, user)
	return user, nil
}

// ListGroups returns every directory group.
func (p *Provider) ListGroups(ctx context.Context) ([]apis.Group, error) {
	var groups []apis.Group
	var nextToken *string
	for {
		out, err := p.idsapi.ListGroups(ctx, &identitystore.ListGroupsInput{
			IdentityStoreId: aws.String(p.identityStoreID),
			NextToken:       nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("listing groups, %w", err)
		}
		for _, g := range out.Groups {
			groups = append(groups, apis.Group{
				ID:          aws.ToString(g.GroupId),
				Name:        aws.ToString(g.DisplayName),
				Description: aws.ToString(g.Description),
			})
		}
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}
	return groups, nil
}

// DescribeGroup resolves a single group by id, memoized.
func (p *Provider) DescribeGroup(ctx context.Context, groupID string) (apis.Group, error) {
	if cached, ok := p.memo.Get("group/" + groupID); ok {
		return cached.(apis.Group), nil
	}
	out, err := p.idsapi.DescribeGroup(ctx, &identitystore.DescribeGroupInput{
		IdentityStoreId: aws.String(p.identityStoreID),
		GroupId:         aws.String(groupID),
	})
	if err != nil {
		return apis.Group{}, fmt.Errorf("describing group %q, %w", groupID, err)
	}
	group := apis.Group{
		ID:          aws.ToString(out.GroupId),
		Name:        aws.ToString(out.DisplayName),
		Description: aws.ToString(out.Description),
	}
	p.memo.SetDefault("group/"+groupID, group)
	return group, nil
}

// Memberships returns the fully materialized membership list of a group.
func (p *Provider) Memberships(ctx context.Context, groupID string) ([]apis.GroupMembership, error) {
	var memberships []apis.GroupMembership
	var nextToken *string
	for {
		out, err := p.idsapi.ListGroupMemberships(ctx, &identitystore.ListGroupMembershipsInput{
			IdentityStoreId: aws.String(p.identityStoreID),
			GroupId:         aws.String(groupID),
			NextToken:       nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("listing memberships of group %q, %w", groupID, err)
		}
		for _, m := range out.GroupMemberships {
			membership := apis.GroupMembership{
				MembershipID: aws.ToString(m.MembershipId),
				GroupID:      aws.ToString(m.GroupId),
			}
			if member, ok := m.MemberId.(*types.MemberIdMemberUserId); ok {
				membership.UserID = member.Value
			}
			memberships = append(memberships, membership)
		}
		if out.NextToken == nil {
			break
		}
		nextToken = out.NextToken
	}
	return memberships, nil
}

// CreateMembership adds a user to a group. An existing membership is success:
// the membership id is looked up and returned as if freshly created.
func (p *Provider) CreateMembership(ctx context.Context, groupID, userID string) (apis.GroupMembership, error) {
	out, err := p.idsapi.CreateGroupMembership(ctx, &identitystore.CreateGroupMembershipInput{
		IdentityStoreId: aws.String(p.identityStoreID),
		GroupId:         aws.String(groupID),
		MemberId:        &types.MemberIdMemberUserId{Value: userID},
	})
	if err == nil {
		return apis.GroupMembership{
			MembershipID: aws.ToString(out.MembershipId),
			GroupID:      groupID,
			UserID:       userID,
		}, nil
	}
	if !awserrors.IsAlreadyExists(err) {
		return apis.GroupMembership{}, fmt.Errorf("creating membership of %q in %q, %w", userID, groupID, err)
	}
	existing, err := p.idsapi.GetGroupMembershipId(ctx, &identitystore.GetGroupMembershipIdInput{
		IdentityStoreId: aws.String(p.identityStoreID),
		GroupId:         aws.String(groupID),
		MemberId:        &types.MemberIdMemberUserId{Value: userID},
	})
	if err != nil {
		return apis.GroupMembership{}, fmt.Errorf("resolving existing membership of %q in %q, %w", userID, groupID, err)
	}
	return apis.GroupMembership{
		MembershipID: aws.ToString(existing.MembershipId),
		GroupID:      groupID,
		UserID:       userID,
	}, nil
}

// DeleteMembership removes a membership. A missing membership is success.
// The returned flag reports whether anything was actually deleted.
func (p *Provider) DeleteMembership(ctx context.Context, membershipID string) (bool, error) {
	_, err := p.idsapi.DeleteGroupMembership(ctx, &identitystore.DeleteGroupMembershipInput{
		IdentityStoreId: aws.String(p.identityStoreID),
		MembershipId:    aws.String(membershipID),
	})
	if err != nil {
		if awserrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("deleting membership %q, %w", membershipID, err)
	}
	return true, nil
}

func toUser(u types.User) apis.User {
	user := apis.User{
		ID:       aws.ToString(u.UserId),
		UserName: aws.ToString(u.UserName),
	}
	for _, email := range u.Emails {
		if email.Primary || user.Email == "" {
			user.Email = aws.ToString(email.Value)
		}
	}
	attrs := map[string]string{
		"user_name":    user.UserName,
		"display_name": aws.ToString(u.DisplayName),
		"title":        aws.ToString(u.Title),
		"user_type":    aws.ToString(u.UserType),
		"locale":       aws.ToString(u.Locale),
		"timezone":     aws.ToString(u.Timezone),
		"email":        user.Email,
	}
	if u.Name != nil {
		attrs["given_name"] = aws.ToString(u.Name.GivenName)
		attrs["family_name"] = aws.ToString(u.Name.FamilyName)
	}
	for k, v := range attrs {
		if v == "" {
			delete(attrs, k)
		}
	}
	user.Attributes = attrs
	return user
}
