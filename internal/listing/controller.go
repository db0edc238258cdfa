package listing

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Options configures a Controller.
type Options[T, F any] struct {
	// Key identifies a row for UpdateItem and ToggleChecked.
	Key func(T) string
	// Defaults are the filters restored by ResetFilters.
	Defaults F

	// SearchDelay defaults to DefaultSearchDelay; negative searches at once.
	SearchDelay     time.Duration
	SearchMinLength int
	Scheduler       Scheduler
	// OnUpdate is called after every applied response or local change.
	OnUpdate func(State[T, F])
}

// Controller owns the state of one list screen. Fetches are tagged with a
// sequence number; a response is applied only when its tag is the latest
// issued, so a slow stale response never overwrites newer results.
type Controller[T, F any] struct {
	fetcher Fetcher[T, F]
	opts    Options[T, F]

	mu      sync.Mutex
	seq     uint64
	gen     uint64
	cancel  func() bool
	sort    SortOrder
	page    int
	filters F
	input   string
	search  string
	mode    Mode
	items   []T
	total   int
	loading bool
	err     error
}

// New returns a browsing controller at page 1, newest first.
func New[T, F any](fetcher Fetcher[T, F], opts Options[T, F]) *Controller[T, F] {
	if opts.SearchDelay < 0 {
		opts.SearchDelay = 0
	} else if opts.SearchDelay == 0 {
		opts.SearchDelay = DefaultSearchDelay
	}
	if opts.SearchMinLength <= 0 {
		opts.SearchMinLength = DefaultSearchMinLength
	}
	if opts.Scheduler == nil {
		opts.Scheduler = afterFunc
	}
	return &Controller[T, F]{
		fetcher: fetcher,
		opts:    opts,
		sort:    SortDesc,
		page:    1,
		filters: opts.Defaults,
		mode:    ModeBrowsing,
	}
}

// Load fetches the current query.
func (c *Controller[T, F]) Load(ctx context.Context) error {
	return c.refetch(ctx, nil)
}

// SetSort changes the order and refetches the current page.
func (c *Controller[T, F]) SetSort(ctx context.Context, order SortOrder) error {
	if order != SortAsc && order != SortDesc {
		return ErrInvalidSort
	}
	return c.refetch(ctx, func() { c.sort = order })
}

// SetPage moves to page p.
func (c *Controller[T, F]) SetPage(ctx context.Context, p int) error {
	if p < 1 {
		return ErrInvalidPage
	}
	return c.refetch(ctx, func() { c.page = p })
}

// SetFilters replaces the filter set and returns to page 1. An active
// search stays applied.
func (c *Controller[T, F]) SetFilters(ctx context.Context, f F) error {
	return c.refetch(ctx, func() {
		c.filters = f
		c.page = 1
	})
}

// ResetFilters restores the default filters and returns to page 1.
func (c *Controller[T, F]) ResetFilters(ctx context.Context) error {
	return c.refetch(ctx, func() {
		c.filters = c.opts.Defaults
		c.page = 1
	})
}

// SetSearch records typed input. Input shorter than the minimum length has
// no network effect and keeps existing results; an empty input clears the
// search. Otherwise a search fetch at page 1 fires once the input has been
// stable for the search delay. Errors of the delayed fetch land in State.Err.
func (c *Controller[T, F]) SetSearch(ctx context.Context, input string) {
	c.mu.Lock()
	c.input = input
	c.gen++
	gen := c.gen
	c.stopLocked()
	q := strings.TrimSpace(input)
	if q == "" {
		searching := c.mode == ModeSearching
		c.mu.Unlock()
		if searching {
			_ = c.ClearSearch(ctx)
		}
		return
	}
	if utf8.RuneCountInString(q) < c.opts.SearchMinLength {
		c.mu.Unlock()
		return
	}
	run := func() {
		// a timer that fired before it could be stopped must not revive
		// an input that was replaced or cleared since
		_ = c.fetch(ctx, func() bool {
			if c.gen != gen {
				return false
			}
			c.mode = ModeSearching
			c.search = q
			c.page = 1
			return true
		})
	}
	if c.opts.SearchDelay == 0 {
		c.mu.Unlock()
		run()
		return
	}
	c.cancel = c.opts.Scheduler(c.opts.SearchDelay, run)
	c.mu.Unlock()
}

// ClearSearch leaves search mode and refetches the browsing list at page 1.
func (c *Controller[T, F]) ClearSearch(ctx context.Context) error {
	return c.refetch(ctx, func() {
		c.stopLocked()
		c.gen++
		c.input = ""
		c.search = ""
		c.mode = ModeBrowsing
		c.page = 1
	})
}

// UpdateItem replaces the row with the given key in place. Order and
// pagination are untouched.
func (c *Controller[T, F]) UpdateItem(key string, fn func(T) T) error {
	c.mu.Lock()
	i := c.indexLocked(key)
	if i < 0 {
		c.mu.Unlock()
		return ErrNotFound
	}
	c.items[i] = fn(c.items[i])
	st := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(st)
	return nil
}

// ToggleChecked asks the server to flip a row's checked flag through toggle
// and applies the returned row only once the server confirms. On error the
// row is left unchanged and the error is kept in State.Err. The list is
// never refetched.
func (c *Controller[T, F]) ToggleChecked(ctx context.Context, key string, toggle func(context.Context, T) (T, error)) error {
	c.mu.Lock()
	i := c.indexLocked(key)
	if i < 0 {
		c.mu.Unlock()
		return ErrNotFound
	}
	current := c.items[i]
	c.mu.Unlock()

	updated, err := toggle(ctx, current)

	c.mu.Lock()
	if err != nil {
		c.err = err
	} else {
		c.err = nil
		// the page may have been replaced while the call was in flight
		if j := c.indexLocked(key); j >= 0 {
			c.items[j] = updated
		}
	}
	st := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(st)
	return err
}

// Snapshot returns the current state.
func (c *Controller[T, F]) Snapshot() State[T, F] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller[T, F]) refetch(ctx context.Context, mutate func()) error {
	return c.fetch(ctx, func() bool {
		if mutate != nil {
			mutate()
		}
		return true
	})
}

// fetch applies mutate under the lock and fetches the resulting query,
// unless mutate reports false.
func (c *Controller[T, F]) fetch(ctx context.Context, mutate func() bool) error {
	c.mu.Lock()
	if !mutate() {
		c.mu.Unlock()
		return nil
	}
	c.seq++
	tag := c.seq
	q := Query[F]{Sort: c.sort, Page: c.page, Filters: c.filters, Search: c.search}
	c.loading = true
	c.mu.Unlock()

	page, err := c.fetcher.Fetch(ctx, q)

	c.mu.Lock()
	if tag != c.seq {
		c.mu.Unlock()
		return nil
	}
	c.loading = false
	if err != nil {
		c.err = err
	} else {
		c.err = nil
		c.items = page.Items
		c.total = page.TotalPages
		if c.total < 1 {
			c.total = 1
		}
	}
	st := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(st)
	return err
}

func (c *Controller[T, F]) stopLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller[T, F]) indexLocked(key string) int {
	if c.opts.Key == nil {
		return -1
	}
	for i, item := range c.items {
		if c.opts.Key(item) == key {
			return i
		}
	}
	return -1
}

func (c *Controller[T, F]) snapshotLocked() State[T, F] {
	items := make([]T, len(c.items))
	copy(items, c.items)
	st := State[T, F]{
		Sort:       c.sort,
		Page:       c.page,
		Filters:    c.filters,
		Input:      c.input,
		Search:     c.search,
		Mode:       c.mode,
		Items:      items,
		TotalPages: c.total,
		Loading:    c.loading,
	}
	if c.err != nil {
		st.Err = c.err.Error()
	}
	return st
}

func (c *Controller[T, F]) notify(st State[T, F]) {
	if c.opts.OnUpdate != nil {
		c.opts.OnUpdate(st)
	}
}
