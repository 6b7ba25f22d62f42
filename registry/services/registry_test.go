package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pkgregistry/registry/auth"
	"pkgregistry/registry/bugzilla"
	"pkgregistry/registry/core"
	"pkgregistry/registry/events"
	"pkgregistry/registry/fas"
	"pkgregistry/registry/schema"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const adminGroup = "registry-admins"

var (
	adminActor = auth.Actor{Username: "admin", Groups: []string{adminGroup}, CLASigned: true}
	aliceActor = auth.Actor{Username: "alice", Groups: []string{"packager"}, CLASigned: true}
	bobActor   = auth.Actor{Username: "bob", Groups: []string{"packager"}, CLASigned: true}
	noClaActor = auth.Actor{Username: "dave", Groups: []string{"packager"}}
)

type fixedDirectory struct{}

func (fixedDirectory) ListPackagerUsernames() (map[string]struct{}, error) {
	return map[string]struct{}{"admin": {}, "alice": {}, "bob": {}, "dave": {}}, nil
}

func (fixedDirectory) LookupGroup(name string) (fas.Group, error) {
	if name == "rust-sig" {
		return fas.Group{Name: "rust-sig", GroupType: "pkgdb"}, nil
	}
	return fas.Group{}, fas.ErrGroupNotFound
}

type apiTester struct {
	server *httptest.Server
	jwt    *auth.JwtManager
}

func setupApi(t *testing.T) *apiTester {
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%v?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(schema.All()...))

	engine := core.New(db, fixedDirectory{}, bugzilla.Disabled{}, events.NewLogSink(io.Discard),
		core.Config{AdminGroups: []string{adminGroup}})

	jwt := auth.NewJwtManager([]byte("test-secret"))
	registry := NewRegistry(db, engine, jwt, auth.NewAuditLogger(io.Discard))

	server := httptest.NewServer(registry.Routes())
	t.Cleanup(server.Close)

	return &apiTester{server: server, jwt: jwt}
}

func (api *apiTester) request(t *testing.T, actor *auth.Actor, method, path string, body interface{}) *http.Response {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, api.server.URL+path, reader)
	require.NoError(t, err)

	if actor != nil {
		token, err := api.jwt.CreateActorJwt(*actor, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	var value T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&value))
	return value
}

func (api *apiTester) seed(t *testing.T, branches ...string) {
	for _, branch := range branches {
		resp := api.request(t, &adminActor, "POST", "/collections", map[string]interface{}{
			"name":       "Test Distro",
			"branchname": branch,
			"status":     "Active",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := api.request(t, &adminActor, "POST", "/packages", map[string]interface{}{
		"name":             "rust",
		"summary":          "the rust compiler",
		"branches":         branches,
		"point_of_contact": "alice",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthNeedsNoAuth(t *testing.T) {
	api := setupApi(t)

	resp := api.request(t, nil, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestsRequireToken(t *testing.T) {
	api := setupApi(t)

	resp := api.request(t, nil, "GET", "/collections", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGetPackage(t *testing.T) {
	api := setupApi(t)
	api.seed(t, "f40", "f41")

	resp := api.request(t, &aliceActor, "GET", "/packages/rpms/rust", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	pkg := decode[packageResponse](t, resp)
	require.Equal(t, "rust", pkg.Name)
	require.Equal(t, "rpms", pkg.Namespace)
	require.Len(t, pkg.Listings, 2)
	for _, listing := range pkg.Listings {
		require.Equal(t, "alice", listing.PointOfContact)
		require.Len(t, listing.Acls, 4)
	}

	resp = api.request(t, &aliceActor, "GET", "/packages/rpms/nope", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAclEndpoint(t *testing.T) {
	api := setupApi(t)
	api.seed(t, "f40")

	// fas_name defaults to the requesting actor.
	resp := api.request(t, &bobActor, "POST", "/packages/rpms/rust/f40/acl", map[string]interface{}{
		"acl":    "commit",
		"status": "Awaiting Review",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Repeating the request is a no-op, reported as such.
	resp = api.request(t, &bobActor, "POST", "/packages/rpms/rust/f40/acl", map[string]interface{}{
		"acl":    "commit",
		"status": "Awaiting Review",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "nothing to update", decode[messageResponse](t, resp).Message)

	// Approving your own acl is forbidden.
	resp = api.request(t, &bobActor, "POST", "/packages/rpms/rust/f40/acl", map[string]interface{}{
		"acl":    "commit",
		"status": "Approved",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// The package admin approves it.
	resp = api.request(t, &aliceActor, "POST", "/packages/rpms/rust/f40/acl", map[string]interface{}{
		"fas_name": "bob",
		"acl":      "commit",
		"status":   "Approved",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCLAGatesMutations(t *testing.T) {
	api := setupApi(t)
	api.seed(t, "f40")

	resp := api.request(t, &noClaActor, "POST", "/packages/rpms/rust/f40/acl", map[string]interface{}{
		"acl":    "watchcommits",
		"status": "Approved",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Reads are fine without the CLA.
	resp = api.request(t, &noClaActor, "GET", "/packages/rpms/rust", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPocEndpoint(t *testing.T) {
	api := setupApi(t)
	api.seed(t, "f40")

	resp := api.request(t, &bobActor, "POST", "/packages/rpms/rust/f40/poc", map[string]interface{}{
		"point_of_contact": "bob",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = api.request(t, &aliceActor, "POST", "/packages/rpms/rust/f40/poc", map[string]interface{}{
		"point_of_contact": "bob",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.request(t, &aliceActor, "POST", "/packages/rpms/rust/f40/poc", map[string]interface{}{
		"point_of_contact": "mallory",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	api := setupApi(t)
	api.seed(t, "f40")

	resp := api.request(t, &aliceActor, "POST", "/packages/rpms/rust/f40/status", map[string]interface{}{
		"status": "Orphaned",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.request(t, &adminActor, "POST", "/packages/rpms/rust/f40/status", map[string]interface{}{
		"status": "Approved",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.request(t, &adminActor, "POST", "/packages/rpms/rust/f40/status", map[string]interface{}{
		"status":           "Approved",
		"point_of_contact": "bob",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminEndpointsAreGuarded(t *testing.T) {
	api := setupApi(t)
	api.seed(t, "f40")

	resp := api.request(t, &aliceActor, "POST", "/collections", map[string]interface{}{
		"branchname": "f41",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = api.request(t, &aliceActor, "DELETE", "/packages/rpms/rust", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = api.request(t, &adminActor, "DELETE", "/packages/rpms/rust", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCollectionsEndToEnd(t *testing.T) {
	api := setupApi(t)
	api.seed(t, "rawhide")

	resp := api.request(t, &adminActor, "POST", "/collections", map[string]interface{}{
		"name":       "Test Distro",
		"branchname": "f41",
		"status":     "Under Development",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.request(t, &adminActor, "PATCH", "/collections/f41", map[string]interface{}{
		"status": "Active",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.request(t, &adminActor, "POST", "/collections/rawhide/branch/f41", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	branched := decode[branchResponse](t, resp)
	require.Empty(t, branched.Failures)

	resp = api.request(t, &aliceActor, "GET", "/collections", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	collections := decode[[]collectionInfo](t, resp)
	require.Len(t, collections, 2)

	resp = api.request(t, &aliceActor, "GET", "/packages/rpms/rust", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pkg := decode[packageResponse](t, resp)
	require.Len(t, pkg.Listings, 2)
}
