package listing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID      string
	Checked bool
	By      string
}

type filter struct {
	Checked string
}

type recorder struct {
	mu      sync.Mutex
	queries []Query[filter]
	page    Page[row]
	err     error
}

func (r *recorder) Fetch(_ context.Context, q Query[filter]) (Page[row], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, q)
	return r.page, r.err
}

func (r *recorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queries)
}

func (r *recorder) last() Query[filter] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries[len(r.queries)-1]
}

type manualTimer struct {
	mu      sync.Mutex
	pending []*task
	delays  []time.Duration
}

type task struct {
	fn      func()
	stopped bool
}

func (m *manualTimer) schedule(d time.Duration, fn func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &task{fn: fn}
	m.pending = append(m.pending, t)
	m.delays = append(m.delays, d)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		was := !t.stopped
		t.stopped = true
		return was
	}
}

func (m *manualTimer) fire() int {
	m.mu.Lock()
	tasks := m.pending
	m.pending = nil
	m.mu.Unlock()
	n := 0
	for _, t := range tasks {
		if t.stopped {
			continue
		}
		t.stopped = true
		t.fn()
		n++
	}
	return n
}

func newController(rec *recorder, timer *manualTimer) *Controller[row, filter] {
	return New[row, filter](rec, Options[row, filter]{
		Key:       func(r row) string { return r.ID },
		Scheduler: timer.schedule,
	})
}

func TestSortAndPageRefetch(t *testing.T) {
	rec := &recorder{page: Page[row]{Items: []row{{ID: "a"}}, TotalPages: 4}}
	c := newController(rec, &manualTimer{})
	ctx := context.Background()

	require.NoError(t, c.Load(ctx))
	require.NoError(t, c.SetPage(ctx, 3))
	require.NoError(t, c.SetSort(ctx, SortAsc))

	assert.Equal(t, 3, rec.calls())
	assert.Equal(t, Query[filter]{Sort: SortAsc, Page: 3}, rec.last())
	assert.ErrorIs(t, c.SetPage(ctx, 0), ErrInvalidPage)
	assert.ErrorIs(t, c.SetSort(ctx, "sideways"), ErrInvalidSort)
	assert.Equal(t, 4, c.Snapshot().TotalPages)
}

func TestFiltersResetPage(t *testing.T) {
	rec := &recorder{}
	c := New[row, filter](rec, Options[row, filter]{Defaults: filter{Checked: "false"}, Scheduler: (&manualTimer{}).schedule})
	ctx := context.Background()

	require.NoError(t, c.SetPage(ctx, 5))
	require.NoError(t, c.SetFilters(ctx, filter{Checked: "true"}))
	assert.Equal(t, 1, rec.last().Page)
	assert.Equal(t, "true", rec.last().Filters.Checked)

	require.NoError(t, c.SetPage(ctx, 2))
	require.NoError(t, c.ResetFilters(ctx))
	assert.Equal(t, 1, rec.last().Page)
	assert.Equal(t, "false", rec.last().Filters.Checked)
}

func TestShortSearchNeverFetches(t *testing.T) {
	rec := &recorder{}
	timer := &manualTimer{}
	c := newController(rec, timer)
	ctx := context.Background()

	c.SetSearch(ctx, "d")
	c.SetSearch(ctx, "du")
	assert.Equal(t, 0, timer.fire())
	assert.Equal(t, 0, rec.calls())
	assert.Equal(t, ModeBrowsing, c.Snapshot().Mode)
	assert.Equal(t, "du", c.Snapshot().Input)
}

func TestSearchAtThreeCharactersFiresAfterDebounce(t *testing.T) {
	rec := &recorder{page: Page[row]{Items: []row{{ID: "dup"}}, TotalPages: 1}}
	timer := &manualTimer{}
	c := newController(rec, timer)
	ctx := context.Background()
	require.NoError(t, c.SetFilters(ctx, filter{Checked: "true"}))
	require.NoError(t, c.SetPage(ctx, 2))

	c.SetSearch(ctx, "dup")
	assert.Equal(t, 2, rec.calls(), "no fetch before the window elapses")
	assert.Equal(t, 1, timer.fire())
	assert.Equal(t, 3, rec.calls())

	q := rec.last()
	assert.Equal(t, "dup", q.Search)
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, "true", q.Filters.Checked, "filters stay applied during search")
	assert.Equal(t, ModeSearching, c.Snapshot().Mode)
	assert.Equal(t, []time.Duration{DefaultSearchDelay}, timer.delays)
}

func TestFastTypingCollapsesToOneFetch(t *testing.T) {
	rec := &recorder{}
	timer := &manualTimer{}
	c := newController(rec, timer)
	ctx := context.Background()

	c.SetSearch(ctx, "dup")
	c.SetSearch(ctx, "dupo")
	c.SetSearch(ctx, "dupon")
	assert.Equal(t, 1, timer.fire())
	assert.Equal(t, 1, rec.calls())
	assert.Equal(t, "dupon", rec.last().Search)
}

func TestShorteningQueryKeepsResults(t *testing.T) {
	rec := &recorder{page: Page[row]{Items: []row{{ID: "x"}}}}
	timer := &manualTimer{}
	c := newController(rec, timer)
	ctx := context.Background()

	c.SetSearch(ctx, "dup")
	timer.fire()
	c.SetSearch(ctx, "du")
	timer.fire()

	st := c.Snapshot()
	assert.Equal(t, 1, rec.calls())
	assert.Equal(t, ModeSearching, st.Mode)
	assert.Equal(t, "dup", st.Search)
	assert.Len(t, st.Items, 1)
}

func TestEmptyQueryReturnsToBrowsing(t *testing.T) {
	rec := &recorder{}
	timer := &manualTimer{}
	c := newController(rec, timer)
	ctx := context.Background()

	c.SetSearch(ctx, "dup")
	timer.fire()
	c.SetSearch(ctx, "")

	assert.Equal(t, 2, rec.calls())
	assert.Equal(t, "", rec.last().Search)
	assert.Equal(t, ModeBrowsing, c.Snapshot().Mode)
}

// staleFetcher blocks the first call until released so a later call can
// finish first.
type staleFetcher struct {
	release chan struct{}
	started chan struct{}
	mu      sync.Mutex
	n       int
}

func (s *staleFetcher) Fetch(_ context.Context, q Query[filter]) (Page[row], error) {
	s.mu.Lock()
	s.n++
	first := s.n == 1
	s.mu.Unlock()
	if first {
		close(s.started)
		<-s.release
		return Page[row]{Items: []row{{ID: "stale"}}}, nil
	}
	return Page[row]{Items: []row{{ID: "fresh"}}}, nil
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	f := &staleFetcher{release: make(chan struct{}), started: make(chan struct{})}
	c := New[row, filter](f, Options[row, filter]{Scheduler: (&manualTimer{}).schedule})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- c.SetPage(ctx, 2) }()
	<-f.started
	require.NoError(t, c.SetPage(ctx, 3))
	close(f.release)
	require.NoError(t, <-done)

	st := c.Snapshot()
	require.Len(t, st.Items, 1)
	assert.Equal(t, "fresh", st.Items[0].ID)
	assert.Equal(t, 3, st.Page)
}

func TestToggleCheckedAppliesAfterSuccessOnly(t *testing.T) {
	rec := &recorder{page: Page[row]{Items: []row{{ID: "m1"}, {ID: "m2"}}, TotalPages: 2}}
	c := newController(rec, &manualTimer{})
	ctx := context.Background()
	require.NoError(t, c.Load(ctx))

	var seenDuringCall bool
	err := c.ToggleChecked(ctx, "m1", func(_ context.Context, r row) (row, error) {
		seenDuringCall = c.Snapshot().Items[0].Checked
		r.Checked, r.By = true, "cadre"
		return r, nil
	})
	require.NoError(t, err)
	assert.False(t, seenDuringCall)

	st := c.Snapshot()
	assert.Equal(t, row{ID: "m1", Checked: true, By: "cadre"}, st.Items[0])
	assert.Equal(t, "m2", st.Items[1].ID)
	assert.Equal(t, 1, rec.calls(), "toggle never refetches")

	boom := errors.New("refusé")
	err = c.ToggleChecked(ctx, "m2", func(context.Context, row) (row, error) { return row{}, boom })
	assert.ErrorIs(t, err, boom)
	st = c.Snapshot()
	assert.Equal(t, row{ID: "m2"}, st.Items[1])
	assert.Equal(t, "refusé", st.Err)

	assert.ErrorIs(t, c.ToggleChecked(ctx, "zz", nil), ErrNotFound)
}

func TestFetchErrorKeepsItems(t *testing.T) {
	rec := &recorder{page: Page[row]{Items: []row{{ID: "a"}}}}
	c := newController(rec, &manualTimer{})
	ctx := context.Background()
	require.NoError(t, c.Load(ctx))

	rec.err = errors.New("upstream down")
	assert.Error(t, c.SetPage(ctx, 2))
	st := c.Snapshot()
	assert.Len(t, st.Items, 1)
	assert.Equal(t, "upstream down", st.Err)
	assert.False(t, st.Loading)
}

func TestParseSortOrder(t *testing.T) {
	o, err := ParseSortOrder("ASC")
	require.NoError(t, err)
	assert.Equal(t, SortAsc, o)
	o, err = ParseSortOrder("")
	require.NoError(t, err)
	assert.Equal(t, SortDesc, o)
	_, err = ParseSortOrder("up")
	assert.ErrorIs(t, err, ErrInvalidSort)
}

// firedTimer hands out callbacks that can no longer be stopped, as happens
// when time.AfterFunc has already fired.
type firedTimer struct {
	mu  sync.Mutex
	fns []func()
}

func (f *firedTimer) schedule(_ time.Duration, fn func()) func() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fns = append(f.fns, fn)
	return func() bool { return false }
}

func TestLateTimerAfterClearDoesNotReviveSearch(t *testing.T) {
	rec := &recorder{}
	timer := &firedTimer{}
	c := New[row, filter](rec, Options[row, filter]{Scheduler: timer.schedule})
	ctx := context.Background()

	c.SetSearch(ctx, "dup")
	require.NoError(t, c.ClearSearch(ctx))
	require.Len(t, timer.fns, 1)
	timer.fns[0]()

	st := c.Snapshot()
	assert.Equal(t, ModeBrowsing, st.Mode)
	assert.Empty(t, st.Search)
	assert.Equal(t, 1, rec.calls())
	assert.Empty(t, rec.last().Search)
}

func TestLateTimerForReplacedInputIsDropped(t *testing.T) {
	rec := &recorder{}
	timer := &firedTimer{}
	c := New[row, filter](rec, Options[row, filter]{Scheduler: timer.schedule})
	ctx := context.Background()

	c.SetSearch(ctx, "dup")
	c.SetSearch(ctx, "dupont")
	require.Len(t, timer.fns, 2)
	timer.fns[1]()
	timer.fns[0]()

	assert.Equal(t, 1, rec.calls())
	assert.Equal(t, "dupont", rec.last().Search)
	assert.Equal(t, "dupont", c.Snapshot().Search)
}
