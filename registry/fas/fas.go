// Package fas wraps the account system the registry consults for packager
// membership and group metadata. The registry only ever asks two questions:
// who is a packager, and does a given group exist and maintain packages.
package fas

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
)

var ErrGroupNotFound = errors.New("group not found in account system")

// ErrUnavailable wraps transport failures so callers can distinguish "the
// account system is down" from "the answer is no".
var ErrUnavailable = errors.New("account system unavailable")

type Group struct {
	Name      string `json:"name"`
	GroupType string `json:"group_type"`
}

// Directory is the capability the core needs from the account system.
type Directory interface {
	ListPackagerUsernames() (map[string]struct{}, error)
	LookupGroup(name string) (Group, error)
}

type ClientArgs struct {
	BaseUrl      string
	Username     string
	Password     string
	PackagerName string
	Verbose      bool
}

// Client talks to the accounts API over HTTP.
type Client struct {
	resty        *resty.Client
	packagerName string
}

func NewClient(args ClientArgs) *Client {
	client := resty.New().
		SetBaseURL(args.BaseUrl).
		SetBasicAuth(args.Username, args.Password).
		SetTimeout(30 * time.Second)
	client.SetDebug(args.Verbose)

	packagerName := args.PackagerName
	if packagerName == "" {
		packagerName = "packager"
	}

	return &Client{resty: client, packagerName: packagerName}
}

type groupMembersResponse struct {
	Members []struct {
		Username string `json:"username"`
	} `json:"members"`
}

func (c *Client) ListPackagerUsernames() (map[string]struct{}, error) {
	var body groupMembersResponse

	resp, err := c.resty.R().
		SetResult(&body).
		Get(fmt.Sprintf("/group/%v/members", c.packagerName))
	if err != nil {
		slog.Error("fas request failed", "group", c.packagerName, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		slog.Error("fas request returned error", "group", c.packagerName, "status", resp.StatusCode())
		return nil, fmt.Errorf("%w: status %v", ErrUnavailable, resp.StatusCode())
	}

	usernames := make(map[string]struct{}, len(body.Members))
	for _, member := range body.Members {
		usernames[member.Username] = struct{}{}
	}
	return usernames, nil
}

func (c *Client) LookupGroup(name string) (Group, error) {
	var group Group

	resp, err := c.resty.R().
		SetResult(&group).
		Get(fmt.Sprintf("/group/%v", name))
	if err != nil {
		slog.Error("fas group lookup failed", "group", name, "error", err)
		return Group{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() == 404 {
		return Group{}, ErrGroupNotFound
	}
	if resp.IsError() {
		slog.Error("fas group lookup returned error", "group", name, "status", resp.StatusCode())
		return Group{}, fmt.Errorf("%w: status %v", ErrUnavailable, resp.StatusCode())
	}

	return group, nil
}

const (
	packagersCacheKey = "packagers"
	groupKeyPrefix    = "group/"
)

// CachedDirectory memoizes lookups with an explicit ttl so the packager list
// is not re-fetched on every acl change. Negative group lookups are cached
// too; a group appearing in the account system shows up after one ttl.
type CachedDirectory struct {
	inner Directory
	cache *cache.Cache
}

func NewCachedDirectory(inner Directory, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		inner: inner,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (d *CachedDirectory) ListPackagerUsernames() (map[string]struct{}, error) {
	if cached, ok := d.cache.Get(packagersCacheKey); ok {
		return cached.(map[string]struct{}), nil
	}

	usernames, err := d.inner.ListPackagerUsernames()
	if err != nil {
		return nil, err
	}

	d.cache.SetDefault(packagersCacheKey, usernames)
	return usernames, nil
}

type groupLookup struct {
	group Group
	err   error
}

func (d *CachedDirectory) LookupGroup(name string) (Group, error) {
	key := groupKeyPrefix + name
	if cached, ok := d.cache.Get(key); ok {
		lookup := cached.(groupLookup)
		return lookup.group, lookup.err
	}

	group, err := d.inner.LookupGroup(name)
	if errors.Is(err, ErrUnavailable) {
		return Group{}, err
	}

	d.cache.SetDefault(key, groupLookup{group: group, err: err})
	return group, err
}
