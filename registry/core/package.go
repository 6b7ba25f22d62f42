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

type NewPackage struct {
	Namespace   string
	Name        string
	Summary     string
	Description string
	ReviewURL   string
	UpstreamURL string
	Critpath    bool

	// Branches the package is listed on at creation, with PoC as the
	// initial point of contact on each.
	Branches []string
	PoC      string
}

// pocInitialAcls are granted, approved, to the initial point of contact of a
// new listing. Group points of contact never receive approveacls.
var pocInitialAcls = []schema.AclKind{
	schema.AclCommit, schema.AclWatchBugzilla, schema.AclWatchCommits, schema.AclApproveAcls,
}

// CreatePackage registers a new package and its initial listings. Identity
// (name + namespace) is immutable once created. Registry admin only.
func (e *Engine) CreatePackage(actor auth.Actor, params NewPackage) error {
	if !e.isRegistryAdmin(actor) {
		return NotAuthorizedError{Actor: actor.Username, Reason: "only registry admins may create packages"}
	}

	if params.Name == "" {
		return InvalidTransitionError{Reason: "package name must be specified"}
	}
	if params.Namespace == "" {
		params.Namespace = "rpms"
	}

	if err := e.ValidatePointOfContact(params.PoC); err != nil {
		return err
	}

	pkg := schema.Package{
		Id:          uuid.New(),
		Name:        params.Name,
		Namespace:   params.Namespace,
		Summary:     params.Summary,
		Description: params.Description,
		Status:      schema.PackageApproved,
		ReviewURL:   params.ReviewURL,
		UpstreamURL: params.UpstreamURL,
		Critpath:    params.Critpath,
		CreatedAt:   time.Now().UTC(),
	}

	return e.db.Transaction(func(txn *gorm.DB) error {
		_, err := schema.GetPackage(txn, pkg.Namespace, pkg.Name)
		if err == nil {
			return InvalidTransitionError{Reason: fmt.Sprintf("package %v already exists", pkg.FullName())}
		}
		if !errors.Is(err, schema.ErrPackageNotFound) {
			return err
		}

		collections := make([]schema.Collection, 0, len(params.Branches))
		for _, branch := range params.Branches {
			collection, err := schema.GetCollection(txn, branch)
			if err != nil {
				if errors.Is(err, schema.ErrCollectionNotFound) {
					return NotFoundError{Kind: "collection", Name: branch}
				}
				return err
			}
			collections = append(collections, collection)
		}

		if result := txn.Create(&pkg); result.Error != nil {
			slog.Error("sql error creating package", "package", pkg.FullName(), "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		for _, collection := range collections {
			listing, err := schema.GetOrCreateListing(txn, pkg, collection, params.PoC)
			if err != nil {
				return err
			}
			if err := e.grantInitialAcls(txn, listing, params.PoC); err != nil {
				return err
			}
		}

		return e.sink.Emit(txn, events.Event{
			Actor:     actor.Username,
			Topic:     events.TopicPackageNew,
			Message:   fmt.Sprintf("%v created package %v with point of contact %v", actor.Username, pkg.FullName(), params.PoC),
			PackageId: &pkg.Id,
			Payload: map[string]interface{}{
				"package":          pkg.FullName(),
				"point_of_contact": params.PoC,
				"branches":         params.Branches,
			},
		})
	})
}

func (e *Engine) grantInitialAcls(txn *gorm.DB, listing schema.PackageListing, poc string) error {
	if poc == schema.PoCOrphan {
		return nil
	}

	for _, kind := range pocInitialAcls {
		if kind == schema.AclApproveAcls && schema.IsGroupName(poc) {
			continue
		}
		acl := schema.PackageListingAcl{
			Id:               uuid.New(),
			FasName:          poc,
			PackageListingId: listing.Id,
			Acl:              kind,
			Status:           schema.AclApproved,
		}
		if result := txn.Create(&acl); result.Error != nil {
			slog.Error("sql error granting initial acl", "fas_name", poc, "acl", kind, "error", result.Error)
			return schema.ErrDbAccessFailed
		}
	}

	return nil
}

// DeletePackage removes a package with its listings and acls. Audit rows
// survive with a null package reference. Registry admin only.
func (e *Engine) DeletePackage(actor auth.Actor, namespace, name string) error {
	if !e.isRegistryAdmin(actor) {
		return NotAuthorizedError{Actor: actor.Username, Reason: "only registry admins may delete packages"}
	}

	return e.db.Transaction(func(txn *gorm.DB) error {
		pkg, err := schema.GetPackage(txn, namespace, name)
		if err != nil {
			if errors.Is(err, schema.ErrPackageNotFound) {
				return NotFoundError{Kind: "package", Name: fmt.Sprintf("%v/%v", namespace, name)}
			}
			return err
		}

		// The audit event is written first so it references the package
		// while the row still exists; the foreign key nulls out on delete.
		err = e.sink.Emit(txn, events.Event{
			Actor:     actor.Username,
			Topic:     events.TopicPackageDelete,
			Message:   fmt.Sprintf("%v deleted package %v", actor.Username, pkg.FullName()),
			PackageId: &pkg.Id,
			Payload: map[string]interface{}{
				"package": pkg.FullName(),
			},
		})
		if err != nil {
			return err
		}

		var listings []schema.PackageListing
		if result := txn.Find(&listings, "package_id = ?", pkg.Id); result.Error != nil {
			slog.Error("sql error loading listings for delete", "package", pkg.FullName(), "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		for _, listing := range listings {
			result := txn.Where("package_listing_id = ?", listing.Id).Delete(&schema.PackageListingAcl{})
			if result.Error != nil {
				slog.Error("sql error deleting listing acls", "listing_id", listing.Id, "error", result.Error)
				return schema.ErrDbAccessFailed
			}
		}
		if result := txn.Where("package_id = ?", pkg.Id).Delete(&schema.PackageListing{}); result.Error != nil {
			slog.Error("sql error deleting listings", "package", pkg.FullName(), "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		result := txn.Model(&schema.Log{}).Where("package_id = ?", pkg.Id).Update("package_id", nil)
		if result.Error != nil {
			slog.Error("sql error detaching audit rows", "package", pkg.FullName(), "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if result := txn.Delete(&pkg); result.Error != nil {
			slog.Error("sql error deleting package", "package", pkg.FullName(), "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		return nil
	})
}

type NewCollection struct {
	Name        string
	Version     string
	Branchname  string
	Status      schema.CollectionStatus
	AllowRetire bool
	DistTag     string
	KojiName    string
}

// CreateCollection registers a new distribution branch. Registry admin only.
func (e *Engine) CreateCollection(actor auth.Actor, params NewCollection) error {
	if !e.isRegistryAdmin(actor) {
		return NotAuthorizedError{Actor: actor.Username, Reason: "only registry admins may create collections"}
	}

	if params.Branchname == "" {
		return InvalidTransitionError{Reason: "collection branchname must be specified"}
	}
	if params.Status == "" {
		params.Status = schema.CollectionUnderDevelopment
	}
	if !params.Status.Valid() {
		return InvalidTransitionError{Reason: fmt.Sprintf("unknown collection status %v", params.Status)}
	}

	collection := schema.Collection{
		Id:          uuid.New(),
		Name:        params.Name,
		Version:     params.Version,
		Branchname:  params.Branchname,
		Status:      params.Status,
		AllowRetire: params.AllowRetire,
		DistTag:     params.DistTag,
		KojiName:    params.KojiName,
		CreatedAt:   time.Now().UTC(),
	}

	return e.db.Transaction(func(txn *gorm.DB) error {
		_, err := schema.GetCollection(txn, params.Branchname)
		if err == nil {
			return InvalidTransitionError{Reason: fmt.Sprintf("collection %v already exists", params.Branchname)}
		}
		if !errors.Is(err, schema.ErrCollectionNotFound) {
			return err
		}

		if result := txn.Create(&collection); result.Error != nil {
			slog.Error("sql error creating collection", "branchname", params.Branchname, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		return e.sink.Emit(txn, events.Event{
			Actor:   actor.Username,
			Topic:   events.TopicCollectionNew,
			Message: fmt.Sprintf("%v created collection %v", actor.Username, collection.Branchname),
			Payload: map[string]interface{}{
				"collection": collection.Branchname,
				"status":     collection.Status,
			},
		})
	})
}

type CollectionUpdate struct {
	Status      schema.CollectionStatus
	AllowRetire *bool
}

// UpdateCollection edits a collection's lifecycle status or retire policy.
// Registry admin only.
func (e *Engine) UpdateCollection(actor auth.Actor, branchname string, update CollectionUpdate) error {
	if !e.isRegistryAdmin(actor) {
		return NotAuthorizedError{Actor: actor.Username, Reason: "only registry admins may edit collections"}
	}

	updates := map[string]interface{}{}
	if update.Status != "" {
		if !update.Status.Valid() {
			return InvalidTransitionError{Reason: fmt.Sprintf("unknown collection status %v", update.Status)}
		}
		updates["status"] = update.Status
	}
	if update.AllowRetire != nil {
		updates["allow_retire"] = *update.AllowRetire
	}
	if len(updates) == 0 {
		return ErrNothingToUpdate
	}

	return e.db.Transaction(func(txn *gorm.DB) error {
		collection, err := schema.GetCollection(txn, branchname)
		if err != nil {
			if errors.Is(err, schema.ErrCollectionNotFound) {
				return NotFoundError{Kind: "collection", Name: branchname}
			}
			return err
		}

		if result := txn.Model(&collection).Updates(updates); result.Error != nil {
			slog.Error("sql error updating collection", "branchname", branchname, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		return e.sink.Emit(txn, events.Event{
			Actor:   actor.Username,
			Topic:   events.TopicCollectionUpdate,
			Message: fmt.Sprintf("%v updated collection %v", actor.Username, branchname),
			Payload: map[string]interface{}{
				"collection": branchname,
				"updates":    updates,
			},
		})
	})
}
