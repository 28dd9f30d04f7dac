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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/identitystore"
	"github.com/aws/aws-sdk-go-v2/service/identitystore/types"

	sdk "github.com/fivexl/sso-elevator/pkg/aws/sdk"
)

// IdentityStoreBehavior must be reset between tests otherwise tests will
// pollute each other.
type IdentityStoreBehavior struct {
	ListUsersBehavior             MockedFunction[identitystore.ListUsersInput, identitystore.ListUsersOutput]
	DescribeUserBehavior          MockedFunction[identitystore.DescribeUserInput, identitystore.DescribeUserOutput]
	ListGroupsBehavior            MockedFunction[identitystore.ListGroupsInput, identitystore.ListGroupsOutput]
	DescribeGroupBehavior         MockedFunction[identitystore.DescribeGroupInput, identitystore.DescribeGroupOutput]
	ListGroupMembershipsBehavior  MockedFunction[identitystore.ListGroupMembershipsInput, identitystore.ListGroupMembershipsOutput]
	CreateGroupMembershipBehavior MockedFunction[identitystore.CreateGroupMembershipInput, identitystore.CreateGroupMembershipOutput]
	DeleteGroupMembershipBehavior MockedFunction[identitystore.DeleteGroupMembershipInput, identitystore.DeleteGroupMembershipOutput]
	GetGroupMembershipIdBehavior  MockedFunction[identitystore.GetGroupMembershipIdInput, identitystore.GetGroupMembershipIdOutput]
}

// Membership is a flattened group membership held in the fake's state.
type Membership struct {
	MembershipID string
	GroupID      string
	UserID       string
}

// IdentityStoreAPI keeps an in-memory membership table behind the mockable
// behaviors, so the default transformers behave like a real identity store:
// created memberships show up in listings and deletions remove them.
type IdentityStoreAPI struct {
	sdk.IdentityStoreAPI
	IdentityStoreBehavior

	// MemberId is a union type that does not survive the JSON clone the
	// recorders rely on, so the concrete user ids are kept here instead.
	MembershipUserIDs AtomicPtrSlice[string]

	mu          sync.Mutex
	users       []types.User
	memberships []Membership
	nextID      int
}

// Reset must be called between tests otherwise tests will pollute
// each other.
func (i *IdentityStoreAPI) Reset() {
	i.ListUsersBehavior.Reset()
	i.DescribeUserBehavior.Reset()
	i.ListGroupsBehavior.Reset()
	i.DescribeGroupBehavior.Reset()
	i.ListGroupMembershipsBehavior.Reset()
	i.CreateGroupMembershipBehavior.Reset()
	i.DeleteGroupMembershipBehavior.Reset()
	i.GetGroupMembershipIdBehavior.Reset()
	i.MembershipUserIDs.Reset()
	i.mu.Lock()
	defer i.mu.Unlock()
	i.users = nil
	i.memberships = nil
	i.nextID = 0
}

// AddUser seeds the in-memory directory. UserName doubles as the primary
// email, matching how the adapter resolves requesters.
func (i *IdentityStoreAPI) AddUser(userID, userName string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.users = append(i.users, types.User{
		UserId:   aws.String(userID),
		UserName: aws.String(userName),
		Emails:   []types.Email{{Value: aws.String(userName), Primary: true}},
	})
}

func (i *IdentityStoreAPI) userList() []types.User {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]types.User(nil), i.users...)
}

// AddMembership seeds the in-memory membership table and returns the id.
func (i *IdentityStoreAPI) AddMembership(groupID, userID string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.nextID++
	id := fmt.Sprintf("membership-%d", i.nextID)
	i.memberships = append(i.memberships, Membership{MembershipID: id, GroupID: groupID, UserID: userID})
	return id
}

// MembershipList returns a copy of the current membership table.
func (i *IdentityStoreAPI) MembershipList() []Membership {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Membership(nil), i.memberships...)
}

func matchesUserFilters(u types.User, filters []types.Filter) bool {
	for _, f := range filters {
		if aws.ToString(f.AttributePath) == "UserName" && aws.ToString(u.UserName) != aws.ToString(f.AttributeValue) {
			return false
		}
	}
	return true
}

// memberUserID extracts the concrete user id from a MemberId union and
// records it for assertions.
func (i *IdentityStoreAPI) memberUserID(member types.MemberId) string {
	user, ok := member.(*types.MemberIdMemberUserId)
	if !ok {
		return ""
	}
	id := user.Value
	i.MembershipUserIDs.Add(&id)
	return id
}

func (i *IdentityStoreAPI) ListUsers(_ context.Context, input *identitystore.ListUsersInput, _ ...func(*identitystore.Options)) (*identitystore.ListUsersOutput, error) {
	return i.ListUsersBehavior.Invoke(input, func(in *identitystore.ListUsersInput) (*identitystore.ListUsersOutput, error) {
		out := &identitystore.ListUsersOutput{}
		for _, u := range i.userList() {
			if matchesUserFilters(u, in.Filters) {
				out.Users = append(out.Users, u)
			}
		}
		return out, nil
	})
}

func (i *IdentityStoreAPI) DescribeUser(_ context.Context, input *identitystore.DescribeUserInput, _ ...func(*identitystore.Options)) (*identitystore.DescribeUserOutput, error) {
	return i.DescribeUserBehavior.Invoke(input, func(in *identitystore.DescribeUserInput) (*identitystore.DescribeUserOutput, error) {
		return &identitystore.DescribeUserOutput{
			UserId:   in.UserId,
			UserName: aws.String("someone@example.com"),
		}, nil
	})
}

func (i *IdentityStoreAPI) ListGroups(_ context.Context, input *identitystore.ListGroupsInput, _ ...func(*identitystore.Options)) (*identitystore.ListGroupsOutput, error) {
	return i.ListGroupsBehavior.Invoke(input, func(_ *identitystore.ListGroupsInput) (*identitystore.ListGroupsOutput, error) {
		return &identitystore.ListGroupsOutput{}, nil
	})
}

func (i *IdentityStoreAPI) DescribeGroup(_ context.Context, input *identitystore.DescribeGroupInput, _ ...func(*identitystore.Options)) (*identitystore.DescribeGroupOutput, error) {
	return i.DescribeGroupBehavior.Invoke(input, func(in *identitystore.DescribeGroupInput) (*identitystore.DescribeGroupOutput, error) {
		return &identitystore.DescribeGroupOutput{
			GroupId:     in.GroupId,
			DisplayName: aws.String("engineers"),
		}, nil
	})
}

func (i *IdentityStoreAPI) ListGroupMemberships(_ context.Context, input *identitystore.ListGroupMembershipsInput, _ ...func(*identitystore.Options)) (*identitystore.ListGroupMembershipsOutput, error) {
	return i.ListGroupMembershipsBehavior.Invoke(input, func(in *identitystore.ListGroupMembershipsInput) (*identitystore.ListGroupMembershipsOutput, error) {
		out := &identitystore.ListGroupMembershipsOutput{}
		for _, m := range i.MembershipList() {
			if m.GroupID != aws.ToString(in.GroupId) {
				continue
			}
			out.GroupMemberships = append(out.GroupMemberships, types.GroupMembership{
				MembershipId: aws.String(m.MembershipID),
				GroupId:      aws.String(m.GroupID),
				MemberId:     &types.MemberIdMemberUserId{Value: m.UserID},
			})
		}
		return out, nil
	})
}

func (i *IdentityStoreAPI) CreateGroupMembership(_ context.Context, input *identitystore.CreateGroupMembershipInput, _ ...func(*identitystore.Options)) (*identitystore.CreateGroupMembershipOutput, error) {
	userID := i.memberUserID(input.MemberId)
	recorded := *input
	recorded.MemberId = nil
	return i.CreateGroupMembershipBehavior.Invoke(&recorded, func(in *identitystore.CreateGroupMembershipInput) (*identitystore.CreateGroupMembershipOutput, error) {
		id := i.AddMembership(aws.ToString(in.GroupId), userID)
		return &identitystore.CreateGroupMembershipOutput{
			MembershipId: aws.String(id),
		}, nil
	})
}

func (i *IdentityStoreAPI) DeleteGroupMembership(_ context.Context, input *identitystore.DeleteGroupMembershipInput, _ ...func(*identitystore.Options)) (*identitystore.DeleteGroupMembershipOutput, error) {
	return i.DeleteGroupMembershipBehavior.Invoke(input, func(in *identitystore.DeleteGroupMembershipInput) (*identitystore.DeleteGroupMembershipOutput, error) {
		i.mu.Lock()
		defer i.mu.Unlock()
		kept := i.memberships[:0]
		for _, m := range i.memberships {
			if m.MembershipID != aws.ToString(in.MembershipId) {
				kept = append(kept, m)
			}
		}
		i.memberships = kept
		return &identitystore.DeleteGroupMembershipOutput{}, nil
	})
}

func (i *IdentityStoreAPI) GetGroupMembershipId(_ context.Context, input *identitystore.GetGroupMembershipIdInput, _ ...func(*identitystore.Options)) (*identitystore.GetGroupMembershipIdOutput, error) {
	userID := i.memberUserID(input.MemberId)
	recorded := *input
	recorded.MemberId = nil
	return i.GetGroupMembershipIdBehavior.Invoke(&recorded, func(in *identitystore.GetGroupMembershipIdInput) (*identitystore.GetGroupMembershipIdOutput, error) {
		for _, m := range i.MembershipList() {
			if m.GroupID == aws.ToString(in.GroupId) && m.UserID == userID {
				return &identitystore.GetGroupMembershipIdOutput{
					MembershipId: aws.String(m.MembershipID),
				}, nil
			}
		}
		return &identitystore.GetGroupMembershipIdOutput{
			MembershipId: aws.String("membership-unknown"),
		}, nil
	})
}
