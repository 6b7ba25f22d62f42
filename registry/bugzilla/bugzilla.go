// Package bugzilla holds the best-effort owner sync hook. Ownership changes
// are already committed by the time the sync runs; a failure here is reported
// to the caller but never rolls the change back.
package bugzilla

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// OwnerChange describes one point of contact update for bugzilla.
type OwnerChange struct {
	NewPoC            string
	PrevPoC           string
	PackageName       string
	CollectionName    string
	CollectionVersion string
}

// OwnerSync is the capability the core uses to push ownership updates.
type OwnerSync interface {
	SyncOwner(change OwnerChange) error
}

type ClientArgs struct {
	BaseUrl string
	ApiKey  string
	Verbose bool
}

type Client struct {
	resty *resty.Client
}

func NewClient(args ClientArgs) *Client {
	client := resty.New().
		SetBaseURL(args.BaseUrl).
		SetHeader("Authorization", fmt.Sprintf("Bearer %v", args.ApiKey)).
		SetTimeout(30 * time.Second)
	client.SetDebug(args.Verbose)

	return &Client{resty: client}
}

type syncOwnerRequest struct {
	NewOwner          string `json:"new_owner"`
	PrevOwner         string `json:"prev_owner"`
	Package           string `json:"package"`
	Collection        string `json:"collection"`
	CollectionVersion string `json:"collection_version"`
}

func (c *Client) SyncOwner(change OwnerChange) error {
	resp, err := c.resty.R().
		SetBody(syncOwnerRequest{
			NewOwner:          change.NewPoC,
			PrevOwner:         change.PrevPoC,
			Package:           change.PackageName,
			Collection:        change.CollectionName,
			CollectionVersion: change.CollectionVersion,
		}).
		Post("/component/owner")
	if err != nil {
		slog.Error("bugzilla owner sync failed", "package", change.PackageName, "error", err)
		return fmt.Errorf("bugzilla owner sync failed: %w", err)
	}
	if resp.IsError() {
		slog.Error("bugzilla owner sync returned error", "package", change.PackageName, "status", resp.StatusCode())
		return fmt.Errorf("bugzilla owner sync failed: status %v", resp.StatusCode())
	}

	return nil
}

// Disabled is used when bugzilla integration is turned off in config.
type Disabled struct{}

func (Disabled) SyncOwner(change OwnerChange) error {
	slog.Debug("bugzilla sync disabled, skipping owner update", "package", change.PackageName)
	return nil
}
