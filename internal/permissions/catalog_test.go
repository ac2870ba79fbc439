package permissions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeCatalogReader struct {
	perms []Permission
	err   error
	calls int
}

func (f *fakeCatalogReader) FetchCatalog(_ context.Context) ([]Permission, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.perms, nil
}

func helpdeskCatalog() []Permission {
	platform := Category{Key: "platform", Name: "Platform Administration", DisplayOrder: 1}
	tickets := Category{Key: "tickets", Name: "Ticket Management", DisplayOrder: 2}
	return []Permission{
		{ID: 1, Key: "users.view", DisplayOrder: 1, Category: platform},
		{ID: 2, Key: "users.edit", DisplayOrder: 2, Category: platform},
		{ID: 3, Key: "tickets.view", DisplayOrder: 1, Category: tickets},
		{ID: 4, Key: "tickets.edit", DisplayOrder: 2, Category: tickets},
	}
}

func TestCatalogListAllCaches(t *testing.T) {
	repo := &fakeCatalogReader{perms: helpdeskCatalog()}
	catalog := NewCatalog(repo, NewMemoryCache(DefaultTTLs(), nil), nil)
	ctx := context.Background()

	perms, err := catalog.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, perms, 4)

	_, err = catalog.ListAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, repo.calls)
}

func TestCatalogFailureNotCached(t *testing.T) {
	repo := &fakeCatalogReader{err: errors.New("connection refused")}
	catalog := NewCatalog(repo, NewMemoryCache(DefaultTTLs(), nil), nil)
	ctx := context.Background()

	_, err := catalog.ListAll(ctx)
	require.ErrorIs(t, err, ErrCatalogUnavailable)

	// The failed load must not poison the cache with an empty catalog.
	repo.err = nil
	repo.perms = helpdeskCatalog()
	perms, err := catalog.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, perms, 4)
	require.Equal(t, 2, repo.calls)
}

func TestCatalogListByCategoryOrdering(t *testing.T) {
	repo := &fakeCatalogReader{perms: helpdeskCatalog()}
	catalog := NewCatalog(repo, NewMemoryCache(DefaultTTLs(), nil), nil)

	groups, err := catalog.ListByCategory(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 2)

	require.Equal(t, "platform", groups[0].Category.Key)
	require.Equal(t, "tickets", groups[1].Category.Key)
	require.Equal(t, "users.view", groups[0].Permissions[0].Key)
	require.Equal(t, "users.edit", groups[0].Permissions[1].Key)
	require.Equal(t, "tickets.view", groups[1].Permissions[0].Key)
}
