package githubapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v75/github"
)

// Member is one organization member with the profile full name used for
// identity reconciliation against the issue tracker's display names.
type Member struct {
	Login    string
	FullName string
}

// OrgDirectory lists organization members through the typed REST client.
// The per-member detail lookup is expensive (one call per member), so
// callers cache the result per session.
type OrgDirectory struct {
	client *github.Client
}

// NewOrgDirectory creates a member directory over a go-github client.
func NewOrgDirectory(client *github.Client) (*OrgDirectory, error) {
	if client == nil {
		return nil, fmt.Errorf("github client is required")
	}
	return &OrgDirectory{client: client}, nil
}

// Members lists all organization members and resolves each profile's full
// name. Members whose profile has no name are returned with an empty
// FullName and remain matchable by login.
func (d *OrgDirectory) Members(ctx context.Context, org string) ([]Member, error) {
	trimmedOrg := strings.TrimSpace(org)
	if trimmedOrg == "" {
		return nil, fmt.Errorf("organization is required")
	}

	var members []Member
	opts := &github.ListMembersOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		page, resp, err := d.client.Organizations.ListMembers(ctx, trimmedOrg, opts)
		if err != nil {
			return nil, fmt.Errorf("list org members: %w", err)
		}

		for _, user := range page {
			login := user.GetLogin()
			if login == "" {
				continue
			}
			member := Member{Login: login}
			detail, _, err := d.client.Users.Get(ctx, login)
			if err == nil && detail != nil {
				member.FullName = detail.GetName()
			}
			members = append(members, member)
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return members, nil
}
