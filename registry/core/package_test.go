package core

import (
	"testing"

	"pkgregistry/registry/events"
	"pkgregistry/registry/schema"

	"github.com/stretchr/testify/require"
)

func TestCreatePackageGrantsInitialAcls(t *testing.T) {
	env := setupTestEnv(t)
	env.addCollection(t, "f40", false)
	env.addCollection(t, "f41", false)
	env.addPackage(t, "rust", "bob", "f40", "f41")

	for _, branch := range []string{"f40", "f41"} {
		listing := env.getListing(t, "rust", branch)
		require.Equal(t, "bob", listing.PointOfContact)
		require.Equal(t, schema.ListingApproved, listing.Status)

		acls := env.getAcls(t, "rust", branch)
		require.Len(t, acls, 4)
		kinds := map[schema.AclKind]bool{}
		for _, acl := range acls {
			require.Equal(t, "bob", acl.FasName)
			require.Equal(t, schema.AclApproved, acl.Status)
			kinds[acl.Acl] = true
		}
		require.True(t, kinds[schema.AclCommit])
		require.True(t, kinds[schema.AclApproveAcls])
		require.True(t, kinds[schema.AclWatchCommits])
		require.True(t, kinds[schema.AclWatchBugzilla])
	}

	require.Len(t, env.recorder.ByTopic(events.TopicPackageNew), 1)
}

func TestCreatePackageGroupPocSkipsApproveAcls(t *testing.T) {
	env := setupTestEnv(t)
	env.addCollection(t, "f40", false)
	env.addPackage(t, "rust", "group::rust-sig", "f40")

	acls := env.getAcls(t, "rust", "f40")
	require.Len(t, acls, 3)
	for _, acl := range acls {
		require.Equal(t, "group::rust-sig", acl.FasName)
		require.NotEqual(t, schema.AclApproveAcls, acl.Acl)
	}
}

func TestCreatePackageRejectsDuplicate(t *testing.T) {
	env := setupTestEnv(t)
	env.addCollection(t, "f40", false)
	env.addPackage(t, "rust", "bob", "f40")

	var invalid InvalidTransitionError
	err := env.engine.CreatePackage(admin, NewPackage{Name: "rust", PoC: "bob", Branches: []string{"f40"}})
	require.ErrorAs(t, err, &invalid)
	require.Contains(t, err.Error(), "already exists")
}

func TestCreatePackageIsAdminOnly(t *testing.T) {
	env := setupTestEnv(t)
	env.addCollection(t, "f40", false)

	var notAuthorized NotAuthorizedError
	err := env.engine.CreatePackage(bob, NewPackage{Name: "rust", PoC: "bob", Branches: []string{"f40"}})
	require.ErrorAs(t, err, &notAuthorized)
}

func TestCreatePackageUnknownBranchRollsBack(t *testing.T) {
	env := setupTestEnv(t)
	env.addCollection(t, "f40", false)

	var notFound NotFoundError
	err := env.engine.CreatePackage(admin, NewPackage{Name: "rust", PoC: "bob", Branches: []string{"f40", "nope"}})
	require.ErrorAs(t, err, &notFound)

	// Nothing was created, the package included.
	_, err = schema.GetPackage(env.db, "rpms", "rust")
	require.ErrorIs(t, err, schema.ErrPackageNotFound)
}

func TestDeletePackageCascades(t *testing.T) {
	env := setupTestEnv(t)
	env.addCollection(t, "f40", false)
	env.addPackage(t, "rust", "bob", "f40")
	require.NoError(t, env.engine.SetAcl(carol, "rpms", "rust", "f40", "carol", schema.AclCommit, schema.AclAwaitingReview))

	pkg, err := schema.GetPackage(env.db, "rpms", "rust")
	require.NoError(t, err)

	require.NoError(t, env.engine.DeletePackage(admin, "rpms", "rust"))

	_, err = schema.GetPackage(env.db, "rpms", "rust")
	require.ErrorIs(t, err, schema.ErrPackageNotFound)

	var listings int64
	env.db.Model(&schema.PackageListing{}).Where("package_id = ?", pkg.Id).Count(&listings)
	require.Zero(t, listings)

	var acls int64
	env.db.Model(&schema.PackageListingAcl{}).Count(&acls)
	require.Zero(t, acls)

	// Audit rows survive with a detached package reference.
	var logs []schema.Log
	require.NoError(t, env.db.Find(&logs).Error)
	require.NotEmpty(t, logs)
	for _, entry := range logs {
		require.Nil(t, entry.PackageId)
	}
	require.Len(t, env.recorder.ByTopic(events.TopicPackageDelete), 1)
}

func TestDeletePackageIsAdminOnly(t *testing.T) {
	env := setupTestEnv(t)
	env.addCollection(t, "f40", false)
	env.addPackage(t, "rust", "bob", "f40")

	var notAuthorized NotAuthorizedError
	err := env.engine.DeletePackage(bob, "rpms", "rust")
	require.ErrorAs(t, err, &notAuthorized)
}

func TestCollectionLifecycle(t *testing.T) {
	env := setupTestEnv(t)
	env.addCollection(t, "f40", false)

	var invalid InvalidTransitionError
	err := env.engine.CreateCollection(admin, NewCollection{Name: "Test Distro", Branchname: "f40"})
	require.ErrorAs(t, err, &invalid)

	allow := true
	err = env.engine.UpdateCollection(admin, "f40", CollectionUpdate{Status: schema.CollectionEOL, AllowRetire: &allow})
	require.NoError(t, err)

	collection, err := schema.GetCollection(env.db, "f40")
	require.NoError(t, err)
	require.Equal(t, schema.CollectionEOL, collection.Status)
	require.True(t, collection.AllowRetire)

	err = env.engine.UpdateCollection(admin, "f40", CollectionUpdate{})
	require.ErrorIs(t, err, ErrNothingToUpdate)

	var notFound NotFoundError
	err = env.engine.UpdateCollection(admin, "nope", CollectionUpdate{Status: schema.CollectionActive})
	require.ErrorAs(t, err, &notFound)

	require.Len(t, env.recorder.ByTopic(events.TopicCollectionUpdate), 1)
}
