// Package audit exposes the read side of the audit trail. Writes happen
// inline in the owning services through shared.AuditLogger.
package audit

import (
	"context"

	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns audit entries matching the filter, newest first unless the
// caller sorts otherwise. The To date is inclusive.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Entry, int, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, 0, httpx.NewValidationError("from", "window start must not be after its end")
	}
	if !filter.To.IsZero() {
		filter.To = filter.To.AddDate(0, 0, 1)
	}

	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, total, nil
}
