package core

import (
	"fmt"
	"testing"

	"pkgregistry/registry/auth"
	"pkgregistry/registry/bugzilla"
	"pkgregistry/registry/events"
	"pkgregistry/registry/fas"
	"pkgregistry/registry/schema"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const adminGroup = "registry-admins"

var (
	admin = auth.Actor{Username: "admin", Groups: []string{adminGroup}, CLASigned: true}
	alice = auth.Actor{Username: "alice", Groups: []string{"packager"}, CLASigned: true}
	bob   = auth.Actor{Username: "bob", Groups: []string{"packager", "rust-sig"}, CLASigned: true}
	carol = auth.Actor{Username: "carol", Groups: []string{"packager"}, CLASigned: true}
)

type stubDirectory struct {
	packagers   map[string]struct{}
	groups      map[string]fas.Group
	unavailable bool
	lookups     int
}

func (d *stubDirectory) ListPackagerUsernames() (map[string]struct{}, error) {
	d.lookups++
	if d.unavailable {
		return nil, fas.ErrUnavailable
	}
	return d.packagers, nil
}

func (d *stubDirectory) LookupGroup(name string) (fas.Group, error) {
	d.lookups++
	if d.unavailable {
		return fas.Group{}, fas.ErrUnavailable
	}
	group, ok := d.groups[name]
	if !ok {
		return fas.Group{}, fas.ErrGroupNotFound
	}
	return group, nil
}

type stubOwnerSync struct {
	calls []bugzilla.OwnerChange
	fail  bool
}

func (s *stubOwnerSync) SyncOwner(change bugzilla.OwnerChange) error {
	if s.fail {
		return fmt.Errorf("bugzilla unreachable")
	}
	s.calls = append(s.calls, change)
	return nil
}

type testEnv struct {
	db       *gorm.DB
	engine   *Engine
	dir      *stubDirectory
	bz       *stubOwnerSync
	recorder *events.Recorder
}

func setupTestEnv(t *testing.T) *testEnv {
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%v?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}

	if err := db.AutoMigrate(schema.All()...); err != nil {
		t.Fatal(err)
	}

	dir := &stubDirectory{
		packagers: map[string]struct{}{
			"admin": {}, "alice": {}, "bob": {}, "carol": {},
		},
		groups: map[string]fas.Group{
			"rust-sig": {Name: "rust-sig", GroupType: "pkgdb"},
			"kde-sig":  {Name: "kde-sig", GroupType: "tracking"},
		},
	}
	bz := &stubOwnerSync{}
	recorder := &events.Recorder{}

	engine := New(db, dir, bz, recorder, Config{AdminGroups: []string{adminGroup}})

	return &testEnv{db: db, engine: engine, dir: dir, bz: bz, recorder: recorder}
}

func (env *testEnv) addCollection(t *testing.T, branchname string, allowRetire bool) {
	err := env.engine.CreateCollection(admin, NewCollection{
		Name:        "Test Distro",
		Version:     branchname,
		Branchname:  branchname,
		Status:      schema.CollectionActive,
		AllowRetire: allowRetire,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (env *testEnv) addPackage(t *testing.T, name, poc string, branches ...string) {
	err := env.engine.CreatePackage(admin, NewPackage{
		Name:     name,
		Summary:  "a test package",
		Branches: branches,
		PoC:      poc,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (env *testEnv) getListing(t *testing.T, name, branch string) schema.PackageListing {
	pkg, err := schema.GetPackage(env.db, "rpms", name)
	if err != nil {
		t.Fatal(err)
	}
	collection, err := schema.GetCollection(env.db, branch)
	if err != nil {
		t.Fatal(err)
	}
	listing, err := schema.GetListing(env.db, pkg.Id, collection.Id)
	if err != nil {
		t.Fatal(err)
	}
	return listing
}

func (env *testEnv) getAcls(t *testing.T, name, branch string) []schema.PackageListingAcl {
	listing := env.getListing(t, name, branch)
	acls, err := schema.ListListingAcls(env.db, listing.Id)
	if err != nil {
		t.Fatal(err)
	}
	return acls
}
