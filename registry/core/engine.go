// Package core implements the ownership and acl state-transition engine.
// Every operation checks its guards before touching any row, performs all
// mutations plus exactly one audit event inside a single transaction, and
// runs best-effort collaborator hooks only after the commit.
package core

import (
	"slices"

	"pkgregistry/registry/auth"
	"pkgregistry/registry/bugzilla"
	"pkgregistry/registry/events"
	"pkgregistry/registry/fas"
	"pkgregistry/registry/schema"

	"gorm.io/gorm"
)

type Config struct {
	// AdminGroups are the account-system groups whose members may perform
	// admin-only operations.
	AdminGroups []string

	// AutoApproveAcls may be requested at any status by anyone for
	// themselves, without packager validation.
	AutoApproveAcls []schema.AclKind

	// GroupSuffix is required on any group acting as point of contact or
	// acl holder.
	GroupSuffix string

	// MaintainerGroupTypes are the account-system group types registered
	// as package-maintaining groups.
	MaintainerGroupTypes []string
}

func (c Config) withDefaults() Config {
	if len(c.AutoApproveAcls) == 0 {
		c.AutoApproveAcls = []schema.AclKind{schema.AclWatchCommits, schema.AclWatchBugzilla}
	}
	if c.GroupSuffix == "" {
		c.GroupSuffix = "-sig"
	}
	if len(c.MaintainerGroupTypes) == 0 {
		c.MaintainerGroupTypes = []string{"pkgdb"}
	}
	return c
}

func (c Config) autoApproved(kind schema.AclKind) bool {
	return slices.Contains(c.AutoApproveAcls, kind)
}

// Engine owns no state beyond its collaborators; every operation re-reads
// entities through one transactional session.
type Engine struct {
	db       *gorm.DB
	dir      fas.Directory
	bugzilla bugzilla.OwnerSync
	sink     events.Sink
	cfg      Config
}

func New(db *gorm.DB, dir fas.Directory, ownerSync bugzilla.OwnerSync, sink events.Sink, cfg Config) *Engine {
	return &Engine{
		db:       db,
		dir:      dir,
		bugzilla: ownerSync,
		sink:     sink,
		cfg:      cfg.withDefaults(),
	}
}

func (e *Engine) isRegistryAdmin(actor auth.Actor) bool {
	return auth.IsRegistryAdmin(actor, e.cfg.AdminGroups)
}

func (e *Engine) isPackageAdmin(txn *gorm.DB, actor auth.Actor, listing schema.PackageListing) (bool, error) {
	return auth.IsPackageAdmin(txn, actor, listing, e.cfg.AdminGroups)
}

// AdminGroups exposes the configured admin group set for router middleware.
func (e *Engine) AdminGroups() []string {
	return e.cfg.AdminGroups
}
