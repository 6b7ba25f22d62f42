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

// terminalAclStatus reports statuses that end an acl's life; requesting one
// never requires the target to still be a valid packager.
func terminalAclStatus(status schema.AclStatus) bool {
	return status == "" || status == schema.AclRemoved || status == schema.AclObsolete
}

// selfServiceAclStatus is the set a non-admin may move their own acl to.
// Approving or denying your own request is reserved for package admins.
func selfServiceAclStatus(status schema.AclStatus) bool {
	return status == "" || status == schema.AclAwaitingReview ||
		status == schema.AclRemoved || status == schema.AclObsolete
}

// SetAcl validates and applies a change to a single (user, listing, acl kind)
// tuple, materializing the listing and acl row on demand. An empty newStatus
// drops the acl row. Requesting the status the row already has returns
// ErrNothingToUpdate and emits no audit event.
func (e *Engine) SetAcl(actor auth.Actor, namespace, name, branch, targetUser string, kind schema.AclKind, newStatus schema.AclStatus) error {
	if !kind.Valid() {
		return InvalidTransitionError{Reason: fmt.Sprintf("unknown acl %v", kind)}
	}
	if newStatus != "" && !newStatus.Valid() {
		return InvalidTransitionError{Reason: fmt.Sprintf("unknown acl status %v", newStatus)}
	}

	if !terminalAclStatus(newStatus) && !e.cfg.autoApproved(kind) {
		if err := e.ValidatePointOfContact(targetUser); err != nil {
			return err
		}
	}

	return e.db.Transaction(func(txn *gorm.DB) error {
		pkg, err := schema.GetPackage(txn, namespace, name)
		if err != nil {
			if errors.Is(err, schema.ErrPackageNotFound) {
				return NotFoundError{Kind: "package", Name: fmt.Sprintf("%v/%v", namespace, name)}
			}
			return err
		}

		collection, err := schema.GetCollection(txn, branch)
		if err != nil {
			if errors.Is(err, schema.ErrCollectionNotFound) {
				return NotFoundError{Kind: "collection", Name: branch}
			}
			return err
		}

		if err := e.checkAclAuthorization(txn, actor, pkg, collection, targetUser, kind, newStatus); err != nil {
			return err
		}

		if kind == schema.AclApproveAcls && schema.IsGroupName(targetUser) {
			return InvalidTransitionError{Reason: "groups cannot hold the approveacls acl"}
		}

		listing, err := schema.GetListing(txn, pkg.Id, collection.Id)
		if err != nil {
			if !errors.Is(err, schema.ErrListingNotFound) {
				return err
			}
			// A terminal request against a listing that does not exist has
			// nothing to end; do not materialize one just to record it.
			if terminalAclStatus(newStatus) {
				return ErrNothingToUpdate
			}
			listing, err = schema.GetOrCreateListing(txn, pkg, collection, targetUser)
			if err != nil {
				return err
			}
		}

		return e.applyAclChange(txn, actor, pkg, collection, listing, targetUser, kind, newStatus)
	})
}

func (e *Engine) checkAclAuthorization(txn *gorm.DB, actor auth.Actor, pkg schema.Package, collection schema.Collection, targetUser string, kind schema.AclKind, newStatus schema.AclStatus) error {
	// The admin check needs the listing's acl set; a listing that does not
	// exist yet cannot carry approveacls, so only registry admin applies.
	var isAdmin bool
	listing, err := schema.GetListing(txn, pkg.Id, collection.Id)
	if err != nil {
		if !errors.Is(err, schema.ErrListingNotFound) {
			return err
		}
		isAdmin = e.isRegistryAdmin(actor)
	} else {
		isAdmin, err = e.isPackageAdmin(txn, actor, listing)
		if err != nil {
			return err
		}
	}

	if isAdmin {
		return nil
	}

	actsOnSelf := targetUser == actor.Username
	if group, ok := schema.GroupName(targetUser); ok {
		actsOnSelf = actor.MemberOf(group)
	}
	if !actsOnSelf {
		return NotAuthorizedError{
			Actor:  actor.Username,
			Reason: fmt.Sprintf("only package admins may change acls for %v", targetUser),
		}
	}

	if !selfServiceAclStatus(newStatus) && !e.cfg.autoApproved(kind) {
		return NotAuthorizedError{
			Actor:  actor.Username,
			Reason: "you are not allowed to approve or deny acls for yourself",
		}
	}

	return nil
}

func (e *Engine) applyAclChange(txn *gorm.DB, actor auth.Actor, pkg schema.Package, collection schema.Collection, listing schema.PackageListing, targetUser string, kind schema.AclKind, newStatus schema.AclStatus) error {
	acl, err := schema.GetListingAcl(txn, targetUser, listing.Id, kind)

	var prevStatus schema.AclStatus
	switch {
	case errors.Is(err, schema.ErrAclNotFound):
		if terminalAclStatus(newStatus) {
			return ErrNothingToUpdate
		}
		acl = schema.PackageListingAcl{
			Id:               uuid.New(),
			FasName:          targetUser,
			PackageListingId: listing.Id,
			Acl:              kind,
			Status:           newStatus,
		}
		if result := txn.Create(&acl); result.Error != nil {
			slog.Error("sql error creating acl", "fas_name", targetUser, "acl", kind, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

	case err != nil:
		return err

	case acl.Status == newStatus:
		return ErrNothingToUpdate

	case newStatus == "":
		prevStatus = acl.Status
		if result := txn.Delete(&acl); result.Error != nil {
			slog.Error("sql error deleting acl", "fas_name", targetUser, "acl", kind, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

	default:
		prevStatus = acl.Status
		result := txn.Model(&acl).Updates(map[string]interface{}{
			"status":     newStatus,
			"updated_at": time.Now().UTC(),
		})
		if result.Error != nil {
			slog.Error("sql error updating acl", "fas_name", targetUser, "acl", kind, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
	}

	statusText := string(newStatus)
	if newStatus == "" {
		statusText = "(dropped)"
	}

	return e.sink.Emit(txn, events.Event{
		Actor:     actor.Username,
		Topic:     events.TopicAclUpdate,
		Message:   fmt.Sprintf("%v set acl %v of package %v on %v for %v to %v", actor.Username, kind, pkg.FullName(), collection.Branchname, targetUser, statusText),
		PackageId: &pkg.Id,
		Payload: map[string]interface{}{
			"package":         pkg.FullName(),
			"collection":      collection.Branchname,
			"fas_name":        targetUser,
			"acl":             kind,
			"previous_status": prevStatus,
			"status":          newStatus,
		},
	})
}
