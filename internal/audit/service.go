package audit

import (
	"context"
	"fmt"
)

// Lister reads audit entries.
type Lister interface {
	ListWindow(ctx context.Context, f Filters, offset, limit int) ([]Entry, error)
}

// Service coordinates audit trail reads with window paging.
type Service struct {
	repo Lister
}

// NewService constructs an audit query service.
func NewService(repo Lister) *Service {
	return &Service{repo: repo}
}

// List returns one page of audit entries, newest first. The repository is
// asked for one row beyond the page to detect whether a next page exists.
func (s *Service) List(ctx context.Context, filters Filters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	entries, err := s.repo.ListWindow(ctx, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Entries: entries, Paging: paging}, nil
}
