package fas

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingDirectory struct {
	packagers   map[string]struct{}
	groups      map[string]Group
	unavailable bool

	packagerCalls int
	groupCalls    int
}

func (d *countingDirectory) ListPackagerUsernames() (map[string]struct{}, error) {
	d.packagerCalls++
	if d.unavailable {
		return nil, ErrUnavailable
	}
	return d.packagers, nil
}

func (d *countingDirectory) LookupGroup(name string) (Group, error) {
	d.groupCalls++
	if d.unavailable {
		return Group{}, ErrUnavailable
	}
	group, ok := d.groups[name]
	if !ok {
		return Group{}, ErrGroupNotFound
	}
	return group, nil
}

func TestCachedDirectoryMemoizesPackagers(t *testing.T) {
	inner := &countingDirectory{packagers: map[string]struct{}{"alice": {}}}
	dir := NewCachedDirectory(inner, time.Minute)

	for i := 0; i < 3; i++ {
		usernames, err := dir.ListPackagerUsernames()
		require.NoError(t, err)
		require.Contains(t, usernames, "alice")
	}

	require.Equal(t, 1, inner.packagerCalls)
}

func TestCachedDirectoryMemoizesGroupLookups(t *testing.T) {
	inner := &countingDirectory{groups: map[string]Group{
		"rust-sig": {Name: "rust-sig", GroupType: "pkgdb"},
	}}
	dir := NewCachedDirectory(inner, time.Minute)

	for i := 0; i < 3; i++ {
		group, err := dir.LookupGroup("rust-sig")
		require.NoError(t, err)
		require.Equal(t, "pkgdb", group.GroupType)
	}
	require.Equal(t, 1, inner.groupCalls)

	// Negative answers are cached too.
	for i := 0; i < 3; i++ {
		_, err := dir.LookupGroup("nope")
		require.ErrorIs(t, err, ErrGroupNotFound)
	}
	require.Equal(t, 2, inner.groupCalls)
}

func TestCachedDirectoryDoesNotCacheOutages(t *testing.T) {
	inner := &countingDirectory{
		groups:      map[string]Group{"rust-sig": {Name: "rust-sig", GroupType: "pkgdb"}},
		unavailable: true,
	}
	dir := NewCachedDirectory(inner, time.Minute)

	_, err := dir.LookupGroup("rust-sig")
	require.ErrorIs(t, err, ErrUnavailable)

	_, err = dir.ListPackagerUsernames()
	require.ErrorIs(t, err, ErrUnavailable)

	// Once the account system recovers, the next call goes through instead
	// of replaying the failure.
	inner.unavailable = false

	group, err := dir.LookupGroup("rust-sig")
	require.NoError(t, err)
	require.Equal(t, "rust-sig", group.Name)

	_, err = dir.ListPackagerUsernames()
	require.NoError(t, err)
}
