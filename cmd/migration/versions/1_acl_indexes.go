package versions

import (
	"pkgregistry/registry/schema"

	"gorm.io/gorm"
)

/*
 * The original deployment created the listing and acl uniqueness constraints
 * under database-specific names. This migration drops the old indexes and
 * lets gorm recreate them under its own naming scheme.
 */
func dropIndexes(txn *gorm.DB, model interface{}, indexes ...string) error {
	for _, idx := range indexes {
		if !txn.Migrator().HasIndex(model, idx) {
			continue
		}
		if err := txn.Migrator().DropIndex(model, idx); err != nil {
			return err
		}
	}
	return nil
}

func Migration_1_acl_indexes(txn *gorm.DB) error {
	err := dropIndexes(txn, &schema.PackageListing{}, "package_listing_packageid_collectionid_key")
	if err != nil {
		return err
	}

	err = dropIndexes(txn, &schema.PackageListingAcl{}, "package_listing_acl_fasname_listingid_acl_key")
	if err != nil {
		return err
	}

	return txn.AutoMigrate(&schema.PackageListing{}, &schema.PackageListingAcl{})
}
