package schema

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrPackageNotFound    = errors.New("package not found")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrListingNotFound    = errors.New("package listing not found")
	ErrAclNotFound        = errors.New("package listing acl not found")
	ErrDbAccessFailed     = errors.New("db access failed")
)

func GetPackage(txn *gorm.DB, namespace, name string) (Package, error) {
	var pkg Package

	result := txn.First(&pkg, "namespace = ? and name = ?", namespace, name)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return pkg, ErrPackageNotFound
		}
		slog.Error("sql error in get package", "namespace", namespace, "name", name, "error", result.Error)
		return pkg, ErrDbAccessFailed
	}

	return pkg, nil
}

func GetCollection(txn *gorm.DB, branchname string) (Collection, error) {
	var collection Collection

	result := txn.First(&collection, "branchname = ?", branchname)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return collection, ErrCollectionNotFound
		}
		slog.Error("sql error in get collection", "branchname", branchname, "error", result.Error)
		return collection, ErrDbAccessFailed
	}

	return collection, nil
}

func GetListing(txn *gorm.DB, packageId, collectionId uuid.UUID) (PackageListing, error) {
	var listing PackageListing

	result := txn.First(&listing, "package_id = ? and collection_id = ?", packageId, collectionId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return listing, ErrListingNotFound
		}
		slog.Error("sql error in get listing", "package_id", packageId, "collection_id", collectionId, "error", result.Error)
		return listing, ErrDbAccessFailed
	}

	return listing, nil
}

// GetOrCreateListing resolves the listing for a (package, collection) pair,
// materializing it with status Approved on first use. Listings are created
// lazily the first time an acl or ownership action targets the pair; this is
// part of the transition operations' contract.
func GetOrCreateListing(txn *gorm.DB, pkg Package, collection Collection, poc string) (PackageListing, error) {
	listing, err := GetListing(txn, pkg.Id, collection.Id)
	if err == nil {
		return listing, nil
	}
	if !errors.Is(err, ErrListingNotFound) {
		return listing, err
	}

	listing = PackageListing{
		Id:             uuid.New(),
		PackageId:      pkg.Id,
		CollectionId:   collection.Id,
		PointOfContact: poc,
		Status:         ListingApproved,
		Critpath:       pkg.Critpath,
		StatusChange:   time.Now().UTC(),
	}

	result := txn.Create(&listing)
	if result.Error != nil {
		slog.Error("sql error creating listing", "package", pkg.FullName(), "branch", collection.Branchname, "error", result.Error)
		return listing, ErrDbAccessFailed
	}

	return listing, nil
}

func GetListingAcl(txn *gorm.DB, fasName string, listingId uuid.UUID, kind AclKind) (PackageListingAcl, error) {
	var acl PackageListingAcl

	result := txn.First(&acl, "fas_name = ? and package_listing_id = ? and acl = ?", fasName, listingId, kind)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return acl, ErrAclNotFound
		}
		slog.Error("sql error in get listing acl", "fas_name", fasName, "listing_id", listingId, "acl", kind, "error", result.Error)
		return acl, ErrDbAccessFailed
	}

	return acl, nil
}

func ListListingAcls(txn *gorm.DB, listingId uuid.UUID) ([]PackageListingAcl, error) {
	var acls []PackageListingAcl

	result := txn.Order("fas_name, acl").Find(&acls, "package_listing_id = ?", listingId)
	if result.Error != nil {
		slog.Error("sql error listing acls", "listing_id", listingId, "error", result.Error)
		return nil, ErrDbAccessFailed
	}

	return acls, nil
}
