// Package listing drives the paginated, sortable, filterable and searchable
// lists shared by the movements, deaths and unified history screens.
package listing

import (
	"context"
	"errors"
	"strings"
	"time"
)

// SortOrder orders list rows by date and time.
type SortOrder string

const (
	SortDesc SortOrder = "desc"
	SortAsc  SortOrder = "asc"
)

// ParseSortOrder accepts "asc" or "desc"; empty means desc.
func ParseSortOrder(s string) (SortOrder, error) {
	switch SortOrder(strings.ToLower(strings.TrimSpace(s))) {
	case "", SortDesc:
		return SortDesc, nil
	case SortAsc:
		return SortAsc, nil
	}
	return "", ErrInvalidSort
}

// Mode tells whether the list shows browsing or search results.
type Mode string

const (
	ModeBrowsing  Mode = "browsing"
	ModeSearching Mode = "searching"
)

const (
	DefaultSearchDelay     = 500 * time.Millisecond
	DefaultSearchMinLength = 3
)

var (
	ErrInvalidPage = errors.New("listing: page must be >= 1")
	ErrInvalidSort = errors.New("listing: sort must be asc or desc")
	ErrNotFound    = errors.New("listing: item not in current page")
)

// Query is what a Fetcher is asked for. Search is empty while browsing.
type Query[F any] struct {
	Sort    SortOrder
	Page    int
	Filters F
	Search  string
}

// Page is one normalized page of results.
type Page[T any] struct {
	Items      []T `json:"items"`
	TotalPages int `json:"totalPages"`
}

// Fetcher loads one page for a query.
type Fetcher[T, F any] interface {
	Fetch(ctx context.Context, q Query[F]) (Page[T], error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc[T, F any] func(ctx context.Context, q Query[F]) (Page[T], error)

func (f FetcherFunc[T, F]) Fetch(ctx context.Context, q Query[F]) (Page[T], error) {
	return f(ctx, q)
}

// Scheduler runs f once after d and returns a function cancelling it.
type Scheduler func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// State is a point-in-time view of a controller.
type State[T, F any] struct {
	Sort       SortOrder `json:"sort"`
	Page       int       `json:"page"`
	Filters    F         `json:"filters"`
	Input      string    `json:"input"`
	Search     string    `json:"search,omitempty"`
	Mode       Mode      `json:"mode"`
	Items      []T       `json:"items"`
	TotalPages int       `json:"totalPages"`
	Loading    bool      `json:"loading"`
	Err        string    `json:"error,omitempty"`
}
