package album

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	pe "wuyrush.io/tourist/errors"
	"wuyrush.io/tourist/flickr"
	md "wuyrush.io/tourist/models"
	"wuyrush.io/tourist/stores"
)

var (
	epoch       = time.Date(2023, 9, 25, 0, 0, 0, 0, time.UTC)
	springfield = md.Coordinate{Latitude: 39.7817, Longitude: -89.6501}
)

type searchCall struct {
	radius float64
	page   int
}

type fakeSearcher struct {
	mu      sync.Mutex
	calls   []searchCall
	respond func(radius float64, page int) (*flickr.SearchResult, *pe.Err)
}

func (s *fakeSearcher) Search(ctx context.Context, at md.Coordinate, radius float64, page int) (*flickr.SearchResult, *pe.Err) {
	s.mu.Lock()
	s.calls = append(s.calls, searchCall{radius: radius, page: page})
	respond := s.respond
	s.mu.Unlock()
	return respond(radius, page)
}

func (s *fakeSearcher) Calls() []searchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]searchCall(nil), s.calls...)
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fail  bool
	// Fetch blocks until gate is closed when it is set
	gate chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, *pe.Err) {
	f.mu.Lock()
	f.calls++
	fail, gate := f.fail, f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, pe.NewFetchFailed("fetch cancelled").WithCause(ctx.Err())
		}
	}
	if fail {
		return nil, pe.NewFetchFailed("fake fetch failure")
	}
	return []byte("image of " + url), nil
}

func (f *fakeFetcher) SetFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeResolver struct {
	place md.Place
}

func (r *fakeResolver) Resolve(ctx context.Context, c md.Coordinate, zoomSpan float64) md.Place {
	return r.place
}

type fixture struct {
	ctl      *Controller
	ps       stores.PinStore
	js       *stores.MemoryJunk
	fs       *stores.LocalFileStore
	searcher *fakeSearcher
	fetcher  *fakeFetcher
	resolver *fakeResolver

	mu     sync.Mutex
	events []md.Event
}

// newFixture sets up a controller on a memory store; configure adjusts the controller config beforehand
func newFixture(t *testing.T, configure ...func(cfg *Config)) *fixture {
	f := &fixture{
		js:       stores.NewMemoryJunk(),
		fs:       &stores.LocalFileStore{Dir: t.TempDir(), MaxBytes: 1 << 20},
		searcher: &fakeSearcher{},
		fetcher:  &fakeFetcher{},
		resolver: &fakeResolver{place: md.Place{Title: "Springfield", Subtitle: "in Illinois, USA"}},
	}
	broker := NewBroker()
	broker.Subscribe(func(e md.Event) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, e)
	})
	cfg := Config{
		PS:           stores.NewMemoryStore(),
		FS:           f.fs,
		JS:           f.js,
		Searcher:     f.searcher,
		Fetcher:      f.fetcher,
		Resolver:     f.resolver,
		Events:       broker,
		ImageBaseURL: "https://fake-static",
		FetchTimeout: 5 * time.Second,
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	f.ps = cfg.PS
	f.ctl = NewController(cfg)
	var seq int64
	f.ctl.newID = func() string {
		return fmt.Sprintf("id%04d", atomic.AddInt64(&seq, 1))
	}
	f.ctl.now = func() time.Time {
		return epoch
	}
	t.Cleanup(f.ctl.Close)
	return f
}

// pin stores a pin at springfield; mutate adjusts its acquisition state before it is stored
func (f *fixture) pin(t *testing.T, mutate func(p *md.Pin)) *md.Pin {
	p := md.NewPin("pin", springfield, md.Place{Title: "Springfield"}, epoch)
	if mutate != nil {
		mutate(p)
	}
	require.Nil(t, f.ps.CreatePin(p))
	return p
}

func (f *fixture) storedPin(t *testing.T, id string) *md.Pin {
	p, err := f.ps.GetPin(id)
	require.Nil(t, err)
	return p
}

func (f *fixture) count(kind md.EventKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (f *fixture) junkRefs(t *testing.T) map[string]bool {
	jks, err := f.js.Junk(0)
	require.Nil(t, err)
	refs := make(map[string]bool, len(jks))
	for _, jk := range jks {
		refs[jk.Ref] = true
	}
	return refs
}

func float(v float64) *float64 {
	return &v
}

// items returns n geotagged results north of springfield, each farther than the one before
func items(prefix string, n int) []flickr.Item {
	its := make([]flickr.Item, n)
	for i := range its {
		its[i] = flickr.Item{
			RemoteID:  fmt.Sprintf("%s-%02d", prefix, i),
			Server:    "65535",
			Secret:    "s3cr3t",
			Title:     fmt.Sprintf("photo %d", i),
			Latitude:  float(springfield.Latitude + 0.0001*float64(i+1)),
			Longitude: float(springfield.Longitude),
		}
	}
	return its
}

func result(its []flickr.Item, pages int) *flickr.SearchResult {
	return &flickr.SearchResult{Page: 1, TotalPages: pages, TotalResults: len(its), Items: its}
}
