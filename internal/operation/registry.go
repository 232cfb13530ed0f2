package operation

import (
	"context"
	"time"
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Type   Type
	Status Status
}

// Matches reports whether rec passes the filter.
func (f Filter) Matches(rec *Record) bool {
	if f.Type != "" && rec.OperationType != f.Type {
		return false
	}
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	return true
}

// Page is one page of List results, newest first.
type Page struct {
	Records    []*Record
	Page       int
	PageSize   int
	Total      int
	TotalPages int
}

// NewPage slices an already filtered, newest-first result set.
func NewPage(all []*Record, page, pageSize int) Page {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	p := Page{Page: page, PageSize: pageSize, Total: len(all), Records: []*Record{}}
	p.TotalPages = p.Total / pageSize
	if p.Total%pageSize != 0 {
		p.TotalPages++
	}
	// checked before multiplying so a huge page can't overflow
	if page > p.TotalPages {
		return p
	}
	lo := (page - 1) * pageSize
	hi := min(lo+pageSize, len(all))
	p.Records = all[lo:hi]
	return p
}

// Stats counts records per status.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"byStatus"`
}

// Registry stores operation records. Mark* calls are atomic per record with
// respect to the status field.
type Registry interface {
	Create(ctx context.Context, rec *Record) error
	MarkProcessing(ctx context.Context, id string, at time.Time) (*Record, error)
	MarkCompleted(ctx context.Context, id string, outputs []OutputFile, at time.Time) (*Record, error)
	MarkFailed(ctx context.Context, id, message string, at time.Time) (*Record, error)
	FindByID(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, filter Filter, page, pageSize int) (Page, error)
	Stats(ctx context.Context) (Stats, error)
	ListExpired(ctx context.Context, cutoff time.Time) ([]*Record, error)
	Delete(ctx context.Context, id string) error
}
