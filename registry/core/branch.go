package core

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pkgregistry/registry/auth"
	"pkgregistry/registry/events"
	"pkgregistry/registry/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Branch clones every approved listing, with its full acl set, from one
// collection onto another. Each package clones in its own transaction: a
// failure (typically a listing that already exists on the target) is
// collected and the run continues. The returned slice holds the per-package
// failure messages; it is empty on a clean run.
func (e *Engine) Branch(actor auth.Actor, fromBranch, toBranch string) ([]string, error) {
	if !e.isRegistryAdmin(actor) {
		return nil, NotAuthorizedError{Actor: actor.Username, Reason: "only registry admins may branch collections"}
	}

	from, err := schema.GetCollection(e.db, fromBranch)
	if err != nil {
		if errors.Is(err, schema.ErrCollectionNotFound) {
			return nil, NotFoundError{Kind: "collection", Name: fromBranch}
		}
		return nil, err
	}

	to, err := schema.GetCollection(e.db, toBranch)
	if err != nil {
		if errors.Is(err, schema.ErrCollectionNotFound) {
			return nil, NotFoundError{Kind: "collection", Name: toBranch}
		}
		return nil, err
	}

	if err := e.emitBranchEvent(actor, events.TopicBranchStart, from, to, nil); err != nil {
		return nil, err
	}

	var listings []schema.PackageListing
	result := e.db.Preload("Package").Preload("Acls").
		Find(&listings, "collection_id = ? and status = ?", from.Id, schema.ListingApproved)
	if result.Error != nil {
		slog.Error("sql error listing branch source", "from", fromBranch, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}

	var failures []string
	for _, listing := range listings {
		if err := e.cloneListing(listing, to); err != nil {
			failure := fmt.Sprintf("error branching %v: %v", listing.Package.FullName(), err)
			slog.Warn("branch clone failed", "package", listing.Package.FullName(), "to", toBranch, "error", err)
			failures = append(failures, failure)
		}
	}

	if err := e.emitBranchEvent(actor, events.TopicBranchComplete, from, to, failures); err != nil {
		return failures, err
	}

	return failures, nil
}

func (e *Engine) cloneListing(source schema.PackageListing, to schema.Collection) error {
	return e.db.Transaction(func(txn *gorm.DB) error {
		clone := schema.PackageListing{
			Id:             uuid.New(),
			PackageId:      source.PackageId,
			CollectionId:   to.Id,
			PointOfContact: source.PointOfContact,
			Status:         schema.ListingApproved,
			Critpath:       source.Critpath,
			StatusChange:   time.Now().UTC(),
		}
		if result := txn.Create(&clone); result.Error != nil {
			return fmt.Errorf("listing already exists or could not be created: %w", result.Error)
		}

		for _, acl := range source.Acls {
			cloned := schema.PackageListingAcl{
				Id:               uuid.New(),
				FasName:          acl.FasName,
				PackageListingId: clone.Id,
				Acl:              acl.Acl,
				Status:           acl.Status,
			}
			if result := txn.Create(&cloned); result.Error != nil {
				return fmt.Errorf("error cloning acl %v for %v: %w", acl.Acl, acl.FasName, result.Error)
			}
		}

		return nil
	})
}

func (e *Engine) emitBranchEvent(actor auth.Actor, topic events.Topic, from, to schema.Collection, failures []string) error {
	var message string
	if topic == events.TopicBranchStart {
		message = fmt.Sprintf("%v started branching %v from %v", actor.Username, to.Branchname, from.Branchname)
	} else {
		message = fmt.Sprintf("%v finished branching %v from %v (%v failures)", actor.Username, to.Branchname, from.Branchname, len(failures))
	}

	return e.db.Transaction(func(txn *gorm.DB) error {
		return e.sink.Emit(txn, events.Event{
			Actor:   actor.Username,
			Topic:   topic,
			Message: message,
			Payload: map[string]interface{}{
				"from":     from.Branchname,
				"to":       to.Branchname,
				"failures": failures,
			},
		})
	})
}
