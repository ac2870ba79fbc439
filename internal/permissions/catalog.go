package permissions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/singleflight"
)

// CatalogReader is the slice of the store the catalog needs.
type CatalogReader interface {
	FetchCatalog(ctx context.Context) ([]Permission, error)
}

// Catalog serves the runtime-immutable permission list, each row carrying its
// category, behind a coarse cached read.
type Catalog struct {
	repo   CatalogReader
	cache  Cache
	logger *slog.Logger
	group  singleflight.Group
}

// NewCatalog constructs a Catalog.
func NewCatalog(repo CatalogReader, cache Cache, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{repo: repo, cache: cache, logger: logger}
}

// ListAll returns every active permission. A backing-store failure surfaces
// as ErrCatalogUnavailable and never populates the cache: callers must not
// mistake an outage for an empty catalog.
func (c *Catalog) ListAll(ctx context.Context) ([]Permission, error) {
	if perms, ok := c.cache.Catalog(ctx); ok {
		return perms, nil
	}
	v, err, _ := c.group.Do("catalog", func() (any, error) {
		perms, err := c.repo.FetchCatalog(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
		c.cache.SetCatalog(ctx, perms)
		return perms, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Permission), nil
}

// ListByCategory reshapes ListAll into category groups ordered by category
// display order, then permission display order. Stateless, no extra cache.
func (c *Catalog) ListByCategory(ctx context.Context) ([]CategoryGroup, error) {
	perms, err := c.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*CategoryGroup)
	for _, p := range perms {
		group, ok := byKey[p.Category.Key]
		if !ok {
			group = &CategoryGroup{Category: p.Category}
			byKey[p.Category.Key] = group
		}
		group.Permissions = append(group.Permissions, p)
	}
	groups := make([]CategoryGroup, 0, len(byKey))
	for _, group := range byKey {
		sort.Slice(group.Permissions, func(i, j int) bool {
			a, b := group.Permissions[i], group.Permissions[j]
			if a.DisplayOrder != b.DisplayOrder {
				return a.DisplayOrder < b.DisplayOrder
			}
			return a.Key < b.Key
		})
		groups = append(groups, *group)
	}
	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i].Category, groups[j].Category
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		return a.Key < b.Key
	})
	return groups, nil
}
