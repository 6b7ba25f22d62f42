package core

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pkgregistry/registry/auth"
	"pkgregistry/registry/bugzilla"
	"pkgregistry/registry/events"
	"pkgregistry/registry/schema"

	"gorm.io/gorm"
)

// TransferPointOfContact changes who holds a package on a branch. Passing the
// orphan sentinel orphans the listing; transferring an orphaned or retired
// listing to a concrete point of contact restores it to Approved ("take").
// The bugzilla owner sync runs after the commit; its failure surfaces as an
// ExternalServiceError but never rolls the transfer back.
func (e *Engine) TransferPointOfContact(actor auth.Actor, namespace, name, branch, newPoc string) error {
	if err := e.ValidatePointOfContact(newPoc); err != nil {
		return err
	}

	var sync *bugzilla.OwnerChange

	err := e.db.Transaction(func(txn *gorm.DB) error {
		pkg, collection, listing, err := e.resolveListing(txn, namespace, name, branch)
		if err != nil {
			return err
		}

		if err := e.checkOwnershipAuthorization(actor, listing, "change the point of contact"); err != nil {
			return err
		}

		prevPoc := listing.PointOfContact
		if prevPoc == newPoc && newPoc != schema.PoCOrphan {
			return ErrNothingToUpdate
		}

		updates := map[string]interface{}{
			"point_of_contact": newPoc,
			"status_change":    time.Now().UTC(),
		}

		if newPoc == schema.PoCOrphan {
			if listing.Status == schema.ListingRetired {
				return InvalidTransitionError{Reason: "a retired package must be approved before it can be orphaned"}
			}
			if listing.Status == schema.ListingOrphaned && prevPoc == schema.PoCOrphan {
				return ErrNothingToUpdate
			}
			updates["status"] = schema.ListingOrphaned
			if err := e.obsoleteMaintainerAcls(txn, listing); err != nil {
				return err
			}
		} else if listing.Status == schema.ListingOrphaned || listing.Status == schema.ListingRetired {
			updates["status"] = schema.ListingApproved
		}

		if result := txn.Model(&listing).Updates(updates); result.Error != nil {
			slog.Error("sql error updating point of contact", "package", pkg.FullName(), "branch", branch, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		if prevPoc != newPoc {
			sync = &bugzilla.OwnerChange{
				NewPoC:            newPoc,
				PrevPoC:           prevPoc,
				PackageName:       pkg.Name,
				CollectionName:    collection.Name,
				CollectionVersion: collection.Version,
			}
		}

		return e.sink.Emit(txn, events.Event{
			Actor:     actor.Username,
			Topic:     events.TopicOwnerUpdate,
			Message:   fmt.Sprintf("%v changed point of contact of package %v on %v from %v to %v", actor.Username, pkg.FullName(), collection.Branchname, prevPoc, newPoc),
			PackageId: &pkg.Id,
			Payload: map[string]interface{}{
				"package":          pkg.FullName(),
				"collection":       collection.Branchname,
				"previous_poc":     prevPoc,
				"point_of_contact": newPoc,
			},
		})
	})
	if err != nil {
		return err
	}

	return e.syncOwner(sync)
}

// UpdateStatus moves a listing through its lifecycle. Orphaning follows the
// point-of-contact rule, retiring additionally requires the collection to
// allow it (or a registry admin), approving and removing are admin only.
func (e *Engine) UpdateStatus(actor auth.Actor, namespace, name, branch string, newStatus schema.ListingStatus, poc string) error {
	if !newStatus.Valid() {
		return InvalidTransitionError{Reason: fmt.Sprintf("unknown listing status %v", newStatus)}
	}

	var sync *bugzilla.OwnerChange

	err := e.db.Transaction(func(txn *gorm.DB) error {
		pkg, collection, listing, err := e.resolveListing(txn, namespace, name, branch)
		if err != nil {
			return err
		}

		prevStatus := listing.Status
		prevPoc := listing.PointOfContact
		newPoc := prevPoc

		updates := map[string]interface{}{
			"status":        newStatus,
			"status_change": time.Now().UTC(),
		}

		switch newStatus {
		case schema.ListingOrphaned:
			if err := e.checkOwnershipAuthorization(actor, listing, "orphan this package"); err != nil {
				return err
			}
			if listing.Status == schema.ListingRetired {
				return InvalidTransitionError{Reason: "a retired package must be approved before it can be orphaned"}
			}
			if listing.Status == schema.ListingOrphaned && prevPoc == schema.PoCOrphan {
				return ErrNothingToUpdate
			}
			newPoc = schema.PoCOrphan
			updates["point_of_contact"] = newPoc
			if err := e.obsoleteMaintainerAcls(txn, listing); err != nil {
				return err
			}

		case schema.ListingRetired:
			if err := e.checkRetireAuthorization(actor, collection, listing); err != nil {
				return err
			}
			if listing.Status == schema.ListingRetired {
				return ErrNothingToUpdate
			}
			newPoc = schema.PoCOrphan
			updates["point_of_contact"] = newPoc
			if err := e.obsoleteMaintainerAcls(txn, listing); err != nil {
				return err
			}

		case schema.ListingApproved:
			if !e.isRegistryAdmin(actor) {
				return NotAuthorizedError{Actor: actor.Username, Reason: "only registry admins may approve package listings"}
			}
			// Orphaned and retired listings both carry the sentinel, so the
			// guard keys on the holder, not the status.
			if prevPoc == schema.PoCOrphan && (poc == "" || poc == schema.PoCOrphan) {
				return InvalidTransitionError{Reason: "you must specify a point of contact when approving a package without one"}
			}
			if poc != "" {
				if err := e.ValidatePointOfContact(poc); err != nil {
					return err
				}
				newPoc = poc
				updates["point_of_contact"] = newPoc
			}
			if listing.Status == schema.ListingApproved && newPoc == prevPoc {
				return ErrNothingToUpdate
			}

		case schema.ListingRemoved:
			if !e.isRegistryAdmin(actor) {
				return NotAuthorizedError{Actor: actor.Username, Reason: "only registry admins may remove package listings"}
			}
			if listing.Status == schema.ListingRemoved {
				return ErrNothingToUpdate
			}
		}

		if result := txn.Model(&listing).Updates(updates); result.Error != nil {
			slog.Error("sql error updating listing status", "package", pkg.FullName(), "branch", branch, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		if prevPoc != newPoc {
			sync = &bugzilla.OwnerChange{
				NewPoC:            newPoc,
				PrevPoC:           prevPoc,
				PackageName:       pkg.Name,
				CollectionName:    collection.Name,
				CollectionVersion: collection.Version,
			}
		}

		return e.sink.Emit(txn, events.Event{
			Actor:     actor.Username,
			Topic:     events.TopicPackageStatus,
			Message:   fmt.Sprintf("%v set status of package %v on %v from %v to %v", actor.Username, pkg.FullName(), collection.Branchname, prevStatus, newStatus),
			PackageId: &pkg.Id,
			Payload: map[string]interface{}{
				"package":          pkg.FullName(),
				"collection":       collection.Branchname,
				"previous_status":  prevStatus,
				"status":           newStatus,
				"point_of_contact": newPoc,
			},
		})
	})
	if err != nil {
		return err
	}

	return e.syncOwner(sync)
}

func (e *Engine) resolveListing(txn *gorm.DB, namespace, name, branch string) (schema.Package, schema.Collection, schema.PackageListing, error) {
	pkg, err := schema.GetPackage(txn, namespace, name)
	if err != nil {
		if errors.Is(err, schema.ErrPackageNotFound) {
			err = NotFoundError{Kind: "package", Name: fmt.Sprintf("%v/%v", namespace, name)}
		}
		return pkg, schema.Collection{}, schema.PackageListing{}, err
	}

	collection, err := schema.GetCollection(txn, branch)
	if err != nil {
		if errors.Is(err, schema.ErrCollectionNotFound) {
			err = NotFoundError{Kind: "collection", Name: branch}
		}
		return pkg, collection, schema.PackageListing{}, err
	}

	listing, err := schema.GetListing(txn, pkg.Id, collection.Id)
	if err != nil {
		if errors.Is(err, schema.ErrListingNotFound) {
			err = NotFoundError{Kind: "package listing", Name: fmt.Sprintf("%v on %v", pkg.FullName(), branch)}
		}
		return pkg, collection, listing, err
	}

	return pkg, collection, listing, nil
}

// checkOwnershipAuthorization enforces the point-of-contact rule: the current
// point of contact, a member of the holding group, or a registry admin. An
// orphaned listing has no holder, so anyone who passed packager validation
// may act (the "take" path).
func (e *Engine) checkOwnershipAuthorization(actor auth.Actor, listing schema.PackageListing, action string) error {
	if e.isRegistryAdmin(actor) {
		return nil
	}
	if listing.PointOfContact == schema.PoCOrphan {
		return nil
	}
	if auth.HoldsListing(actor, listing) {
		return nil
	}
	return NotAuthorizedError{
		Actor:  actor.Username,
		Reason: fmt.Sprintf("only the point of contact (%v) or an admin may %v", listing.PointOfContact, action),
	}
}

func (e *Engine) checkRetireAuthorization(actor auth.Actor, collection schema.Collection, listing schema.PackageListing) error {
	if e.isRegistryAdmin(actor) {
		return nil
	}
	if !collection.AllowRetire {
		return NotAuthorizedError{
			Actor:  actor.Username,
			Reason: fmt.Sprintf("packages may not be retired on %v by non-admins", collection.Branchname),
		}
	}
	if listing.PointOfContact != schema.PoCOrphan && !auth.HoldsListing(actor, listing) {
		return NotAuthorizedError{
			Actor:  actor.Username,
			Reason: fmt.Sprintf("only the point of contact (%v) or an admin may retire this package", listing.PointOfContact),
		}
	}
	return nil
}

// obsoleteMaintainerAcls demotes every approved commit and approveacls acl on
// the listing when it is orphaned or retired. All prior holders lose their
// maintainer rights, not just the acting point of contact; watch acls stay.
func (e *Engine) obsoleteMaintainerAcls(txn *gorm.DB, listing schema.PackageListing) error {
	result := txn.Model(&schema.PackageListingAcl{}).
		Where("package_listing_id = ? and acl in ? and status = ?",
			listing.Id, []schema.AclKind{schema.AclCommit, schema.AclApproveAcls}, schema.AclApproved).
		Update("status", schema.AclObsolete)
	if result.Error != nil {
		slog.Error("sql error obsoleting maintainer acls", "listing_id", listing.Id, "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	return nil
}

func (e *Engine) syncOwner(change *bugzilla.OwnerChange) error {
	if change == nil {
		return nil
	}
	if err := e.bugzilla.SyncOwner(*change); err != nil {
		return ExternalServiceError{Service: "bugzilla", Err: err}
	}
	return nil
}
