// Package storagetest holds the behaviour every storage.Store backend must
// share. Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
	"github.com/sirosfoundation/go-linkshare/internal/storage"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) storage.Store

// Run exercises a backend against the storage.Store contract.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"Empty", testEmpty},
		{"LinkPreservesOrder", testLinkPreservesOrder},
		{"LinkDuplicate", testLinkDuplicate},
		{"LinkInvalid", testLinkInvalid},
		{"Unlink", testUnlink},
		{"NetworkRoundTrip", testNetworkRoundTrip},
		{"NetworkDuplicate", testNetworkDuplicate},
		{"NetworkInvalid", testNetworkInvalid},
		{"NetworkRemove", testNetworkRemove},
		{"ResultsAreCopies", testResultsAreCopies},
		{"ConcurrentLinks", testConcurrentLinks},
		{"Ping", testPing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func testEmpty(t *testing.T, s storage.Store) {
	ctx := context.Background()

	paths, err := s.ReadLinkedPaths(ctx)
	require.NoError(t, err)
	assert.NotNil(t, paths)
	assert.Empty(t, paths)

	networks, err := s.ReadNetworks(ctx)
	require.NoError(t, err)
	assert.NotNil(t, networks)
	assert.Empty(t, networks)
}

func testLinkPreservesOrder(t *testing.T, s storage.Store) {
	ctx := context.Background()
	want := []domain.LinkedPath{
		{Name: "zeta", Path: "/srv/zeta"},
		{Name: "alpha", Path: "/srv/alpha"},
		{Name: "mid", Path: "/srv/mid"},
	}
	for _, lp := range want {
		require.NoError(t, s.LinkPath(ctx, lp))
	}

	got, err := s.ReadLinkedPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func testLinkDuplicate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.LinkPath(ctx, domain.LinkedPath{Name: "docs", Path: "/a"}))

	err := s.LinkPath(ctx, domain.LinkedPath{Name: "docs", Path: "/b"})
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	got, err := s.ReadLinkedPaths(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/a", got[0].Path)
}

func testLinkInvalid(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for _, lp := range []domain.LinkedPath{
		{Name: "", Path: "/a"},
		{Name: "a/b", Path: "/a"},
		{Name: "docs", Path: ""},
		{Name: "..", Path: "/a"},
	} {
		assert.ErrorIs(t, s.LinkPath(ctx, lp), storage.ErrInvalidInput, "%+v", lp)
	}
}

func testUnlink(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.LinkPath(ctx, domain.LinkedPath{Name: "a", Path: "/a"}))
	require.NoError(t, s.LinkPath(ctx, domain.LinkedPath{Name: "b", Path: "/b"}))
	require.NoError(t, s.LinkPath(ctx, domain.LinkedPath{Name: "c", Path: "/c"}))

	require.NoError(t, s.UnlinkPath(ctx, "b"))
	assert.ErrorIs(t, s.UnlinkPath(ctx, "b"), storage.ErrNotFound)

	got, err := s.ReadLinkedPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.LinkedPath{{Name: "a", Path: "/a"}, {Name: "c", Path: "/c"}}, got)
}

func sampleNetwork(name string) domain.Network {
	return domain.Network{
		Name: name,
		LinkedPaths: []domain.LinkedPath{
			{Name: "photos", Path: "/home/me/photos"},
			{Name: "docs", Path: "/home/me/docs"},
		},
		Port: 9000,
	}
}

func testNetworkRoundTrip(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateNetwork(ctx, sampleNetwork("work")))
	require.NoError(t, s.CreateNetwork(ctx, sampleNetwork("home")))

	got, err := s.GetNetwork(ctx, "home")
	require.NoError(t, err)
	assert.Equal(t, sampleNetwork("home"), *got)

	all, err := s.ReadNetworks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "work", all[0].Name)
	assert.Equal(t, "home", all[1].Name)
	assert.Equal(t, []string{"photos", "docs"}, all[1].Names())

	_, err = s.GetNetwork(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testNetworkDuplicate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateNetwork(ctx, sampleNetwork("home")))
	assert.ErrorIs(t, s.CreateNetwork(ctx, sampleNetwork("home")), storage.ErrAlreadyExists)
}

func testNetworkInvalid(t *testing.T, s storage.Store) {
	ctx := context.Background()

	assert.ErrorIs(t, s.CreateNetwork(ctx, domain.Network{Name: "empty"}), storage.ErrInvalidInput)

	dup := sampleNetwork("dup")
	dup.LinkedPaths = append(dup.LinkedPaths, domain.LinkedPath{Name: "docs", Path: "/other"})
	assert.ErrorIs(t, s.CreateNetwork(ctx, dup), storage.ErrInvalidInput)

	all, err := s.ReadNetworks(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func testNetworkRemove(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateNetwork(ctx, sampleNetwork("home")))

	require.NoError(t, s.RemoveNetwork(ctx, "home"))
	assert.ErrorIs(t, s.RemoveNetwork(ctx, "home"), storage.ErrNotFound)

	_, err := s.GetNetwork(ctx, "home")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testResultsAreCopies(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.LinkPath(ctx, domain.LinkedPath{Name: "a", Path: "/a"}))
	require.NoError(t, s.CreateNetwork(ctx, sampleNetwork("home")))

	paths, err := s.ReadLinkedPaths(ctx)
	require.NoError(t, err)
	paths[0].Path = "/changed"

	network, err := s.GetNetwork(ctx, "home")
	require.NoError(t, err)
	network.LinkedPaths[0].Name = "changed"

	paths, err = s.ReadLinkedPaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/a", paths[0].Path)

	network, err = s.GetNetwork(ctx, "home")
	require.NoError(t, err)
	assert.Equal(t, "photos", network.LinkedPaths[0].Name)
}

func testConcurrentLinks(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const n = 20

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lp := domain.LinkedPath{Name: fmt.Sprintf("dir-%02d", i), Path: fmt.Sprintf("/srv/%d", i)}
			assert.NoError(t, s.LinkPath(ctx, lp))
		}(i)
	}
	wg.Wait()

	got, err := s.ReadLinkedPaths(ctx)
	require.NoError(t, err)
	assert.Len(t, got, n)
}

func testPing(t *testing.T, s storage.Store) {
	assert.NoError(t, s.Ping(context.Background()))
}
