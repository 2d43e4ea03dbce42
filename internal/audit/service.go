package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
)

// ErrInvalidEntry menandakan entri audit tidak lengkap.
var ErrInvalidEntry = errors.New("audit: entry requires action, entity and entity id")

// Repository menyediakan akses penyimpanan audit.
type Repository interface {
	Insert(ctx context.Context, entry Entry) error
	Window(ctx context.Context, params WindowParams) ([]TimelineRow, error)
}

// Service mengoordinasikan pencatatan dan pengambilan data audit.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService membuat service audit timeline baru.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Record menyimpan satu entri audit.
func (s *Service) Record(ctx context.Context, entry Entry) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("audit: repository not configured")
	}
	entry.Action = strings.TrimSpace(entry.Action)
	entry.Entity = strings.TrimSpace(entry.Entity)
	entry.EntityID = strings.TrimSpace(entry.EntityID)
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return ErrInvalidEntry
	}
	if entry.At.IsZero() {
		entry.At = s.now().UTC()
	}
	return s.repo.Insert(ctx, entry)
}

// Timeline mengambil data audit dengan paging.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s == nil || s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	rows, err := s.repo.Window(ctx, WindowParams{
		From:   filters.From,
		To:     filters.To,
		Actor:  filters.ActorID,
		Entity: strings.TrimSpace(filters.Entity),
		Action: strings.TrimSpace(filters.Action),
		Offset: (page - 1) * pageSize,
		Limit:  pageSize + 1,
	})
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}
