package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/catalog-adapter/pkg/model"
)

// memStore upserts by url like the Postgres store does.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	byURL   map[string]int64
	rows    map[int64]model.ProductInput
	deleted map[string]bool
	failOn  map[string]error
	order   []string
}

func newMemStore() *memStore {
	return &memStore{
		byURL:   map[string]int64{},
		rows:    map[int64]model.ProductInput{},
		deleted: map[string]bool{},
		failOn:  map[string]error{},
	}
}

func (m *memStore) Create(_ context.Context, in model.ProductInput) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failOn[in.URL]; ok {
		return 0, err
	}
	if m.deleted[in.URL] {
		return 0, model.ErrDeleted
	}
	m.order = append(m.order, in.URL)
	if id, ok := m.byURL[in.URL]; ok {
		m.rows[id] = in
		return id, nil
	}
	m.nextID++
	m.byURL[in.URL] = m.nextID
	m.rows[m.nextID] = in
	return m.nextID, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// scriptedFetcher serves pre-built pages; pages beyond the script are exhausted.
type scriptedFetcher struct {
	pages     map[int]PageResult
	requested []int
}

func (f *scriptedFetcher) FetchPage(_ context.Context, page int) PageResult {
	f.requested = append(f.requested, page)
	if res, ok := f.pages[page]; ok {
		res.Page = page
		return res
	}
	return PageResult{Kind: PageExhausted, Page: page}
}

func items(slugs ...string) PageResult {
	res := PageResult{Kind: PageItems, URL: "https://catalog.test/p", Status: 200}
	for _, s := range slugs {
		res.Items = append(res.Items, RawItem{
			Slug:  Text{Value: s, Valid: true},
			Brand: []byte(`{"nameEn":"Brand ` + s + `"}`),
		})
	}
	return res
}

func newTestIngestor(f PageFetcher, st ProductWriter, sink *recordingSink, cfg IngestorConfig) *Ingestor {
	return NewIngestor(zap.NewNop(), f, NewMapper("https://shop.test/products"), st, sink, cfg)
}

func TestIngestor_TwoItemsThenEmpty(t *testing.T) {
	f := &scriptedFetcher{pages: map[int]PageResult{1: items("a", "b")}}
	st := newMemStore()

	summary, err := newTestIngestor(f, st, &recordingSink{}, IngestorConfig{}).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, st.count())
	assert.Equal(t, []int{1, 2}, f.requested, "loop stops after the empty page")
	assert.Equal(t, []string{"https://shop.test/products/a", "https://shop.test/products/b"}, st.order)
	assert.Equal(t, model.OutcomeCompleted, summary.Outcome)
	assert.Equal(t, 2, summary.Pages)
	assert.Equal(t, 2, summary.LastPage)
	assert.Equal(t, 2, summary.Items)
	assert.Equal(t, 2, summary.Stored)
	assert.NotEqual(t, uuid.Nil, summary.RunID)
	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))
}

func TestIngestor_RerunIsIdempotent(t *testing.T) {
	f := &scriptedFetcher{pages: map[int]PageResult{
		1: items("a", "b", "c"),
		2: items("d"),
	}}
	st := newMemStore()
	ing := newTestIngestor(f, st, &recordingSink{}, IngestorConfig{})

	_, err := ing.Run(context.Background())
	require.NoError(t, err)
	first := st.count()

	_, err = ing.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, st.count())
	assert.Equal(t, 4, st.count())
}

func TestIngestor_FetchFailureStopsRun(t *testing.T) {
	netErr := &model.NetworkError{Status: 503, URL: "https://catalog.test/p?page_number=2"}
	f := &scriptedFetcher{pages: map[int]PageResult{
		1: items("a"),
		2: {Kind: PageFailed, Err: netErr},
		3: items("never"),
	}}
	st := newMemStore()

	summary, err := newTestIngestor(f, st, &recordingSink{}, IngestorConfig{}).Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, netErr)
	assert.Equal(t, []int{1, 2}, f.requested)
	assert.Equal(t, 1, st.count())
	assert.Equal(t, model.OutcomeFailed, summary.Outcome)
	assert.Contains(t, summary.Error, "page 2")
}

func TestIngestor_ItemFailuresDoNotStopRun(t *testing.T) {
	f := &scriptedFetcher{pages: map[int]PageResult{1: items("a", "gone", "broken", "d")}}
	st := newMemStore()
	st.deleted["https://shop.test/products/gone"] = true
	st.failOn["https://shop.test/products/broken"] = &model.PersistenceError{Op: "create_product", Err: errors.New("boom")}
	sink := &recordingSink{}

	summary, err := newTestIngestor(f, st, sink, IngestorConfig{}).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 4, summary.Items)
	assert.Equal(t, 2, summary.Stored)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, sink.all(), "persistence failures are reported by the store, not twice")
}

func TestIngestor_ItemWithoutSlugReported(t *testing.T) {
	page := items("a")
	page.Items = append(page.Items, RawItem{})
	f := &scriptedFetcher{pages: map[int]PageResult{1: page}}
	sink := &recordingSink{}

	summary, err := newTestIngestor(f, newMemStore(), sink, IngestorConfig{}).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stored)
	assert.Equal(t, 1, summary.Failed)
	records := sink.all()
	require.Len(t, records, 1)
	var parseErr *model.ParseError
	assert.ErrorAs(t, records[0].err, &parseErr)
}

func TestIngestor_MalformedElementsCountAsFailed(t *testing.T) {
	page := items("a")
	page.Malformed = 2
	f := &scriptedFetcher{pages: map[int]PageResult{1: page, 2: items("b")}}
	st := newMemStore()

	summary, err := newTestIngestor(f, st, &recordingSink{}, IngestorConfig{}).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, f.requested, "a page of bad elements does not end the run")
	assert.Equal(t, 2, st.count())
	assert.Equal(t, 4, summary.Items)
	assert.Equal(t, 2, summary.Stored)
	assert.Equal(t, 2, summary.Failed)
}

func TestIngestor_StartPageAndCap(t *testing.T) {
	f := &scriptedFetcher{pages: map[int]PageResult{
		3: items("c"),
		4: items("d"),
		5: items("e"),
	}}
	st := newMemStore()

	summary, err := newTestIngestor(f, st, &recordingSink{}, IngestorConfig{StartPage: 3, MaxPages: 2}).
		Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, f.requested)
	assert.Equal(t, model.OutcomeCapped, summary.Outcome)
	assert.Equal(t, 3, summary.StartPage)
	assert.Equal(t, 4, summary.LastPage)
	assert.Equal(t, 2, st.count())
}

type cancelingStore struct {
	*memStore
	cancel context.CancelFunc
}

func (c *cancelingStore) Create(ctx context.Context, in model.ProductInput) (int64, error) {
	id, err := c.memStore.Create(ctx, in)
	c.cancel()
	return id, err
}

func TestIngestor_CancelStopsBetweenItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := &scriptedFetcher{pages: map[int]PageResult{1: items("a", "b", "c")}}
	st := &cancelingStore{memStore: newMemStore(), cancel: cancel}

	summary, err := newTestIngestor(f, st, &recordingSink{}, IngestorConfig{}).Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.OutcomeCanceled, summary.Outcome)
	assert.Equal(t, 1, st.count())
}

func TestIngestor_EndToEndOverHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page_number") {
		case "1":
			_, _ = fmt.Fprint(w, `{"data":{"products":{"items":[
				{"slug":"rose-water","nameFa":"گلاب","nameEn":"Rose Water","basePrice":85000,"discountPrice":null,"brand":{"nameEn":"Barij"}},
				{"slug":"hand-cream","nameEn":"Hand Cream","basePrice":"120000","discountPrice":"99000","brand":{"nameEn":"Neutrogena"}}
			]}}}`)
		default:
			_, _ = fmt.Fprint(w, `{"data":{"products":{"items":[]}}}`)
		}
	}))
	defer server.Close()

	sink := &recordingSink{}
	client := NewClient(zap.NewNop(), ClientConfig{
		Endpoint:   server.URL,
		CategoryID: 27,
		PageSize:   24,
		Timeout:    time.Second,
	}, nil, sink)
	st := newMemStore()

	summary, err := newTestIngestor(client, st, sink, IngestorConfig{}).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Stored)
	require.Equal(t, 2, st.count())

	rose := st.rows[st.byURL["https://shop.test/products/rose-water"]]
	assert.Equal(t, "Barij", rose.Name)
	assert.True(t, rose.BasePrice.Valid)
	assert.False(t, rose.DiscountPrice.Valid, "null price stays null")
	assert.Empty(t, sink.all())
}
