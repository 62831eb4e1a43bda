package flow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"movieflix-tg-bot/internal/fetch"
	"movieflix-tg-bot/internal/store"
)

type fakeProvider struct {
	search    func(query string, limit int) ([]store.Movie, error)
	qualities func(detailRef string) ([]store.Quality, error)
}

func (p *fakeProvider) SearchMovies(_ context.Context, query string, limit int) ([]store.Movie, error) {
	return p.search(query, limit)
}

func (p *fakeProvider) MovieQualities(_ context.Context, detailRef string) ([]store.Quality, error) {
	return p.qualities(detailRef)
}

type fakeFetcher struct {
	fetch func(sourceRef, filename string) (*fetch.Artifact, error)
}

func (f *fakeFetcher) Fetch(_ context.Context, sourceRef, filename string) (*fetch.Artifact, error) {
	return f.fetch(sourceRef, filename)
}

func newController(p Provider, f Fetcher, ttl time.Duration, limit int) (*Controller, *store.Store) {
	s := store.New(ttl)
	return NewController(p, s, f, limit, zerolog.Nop()), s
}

func TestOnQueryNoResults(t *testing.T) {
	p := &fakeProvider{search: func(string, int) ([]store.Movie, error) { return nil, nil }}
	c, s := newController(p, nil, time.Minute, 10)

	// Stale results from an earlier search must survive a miss.
	prior := s.PutMovie(7, store.Movie{Title: "kept"})

	_, err := c.OnQuery(context.Background(), 7, "zzzzz")
	if !errors.Is(err, ErrNoResults) {
		t.Fatalf("OnQuery err = %v, want ErrNoResults", err)
	}
	if _, ok := s.GetMovie(7, prior); !ok {
		t.Error("empty search wiped earlier results")
	}
}

func TestOnQueryProviderError(t *testing.T) {
	p := &fakeProvider{search: func(string, int) ([]store.Movie, error) {
		return nil, fmt.Errorf("502 from upstream")
	}}
	c, _ := newController(p, nil, time.Minute, 10)

	_, err := c.OnQuery(context.Background(), 1, "dune")
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Op != "search" {
		t.Fatalf("OnQuery err = %v, want *ProviderError{search}", err)
	}
}

func TestOnQueryCapsAndKeepsOrder(t *testing.T) {
	p := &fakeProvider{search: func(string, int) ([]store.Movie, error) {
		var out []store.Movie
		for i := 0; i < 15; i++ {
			out = append(out, store.Movie{ID: fmt.Sprint(i), Title: fmt.Sprintf("Movie %02d", i), Year: 2000 + i})
		}
		return out, nil
	}}
	c, _ := newController(p, nil, time.Minute, 10)

	list, err := c.OnQuery(context.Background(), 1, "movie")
	if err != nil {
		t.Fatalf("OnQuery: %v", err)
	}
	if len(list.Choices) != 10 {
		t.Fatalf("got %d choices, want 10", len(list.Choices))
	}
	if list.Choices[0].Label != "Movie 00 (2000)" || list.Choices[9].Label != "Movie 09 (2009)" {
		t.Errorf("order not preserved: first=%q last=%q", list.Choices[0].Label, list.Choices[9].Label)
	}
}

func TestOnQueryDuplicateTitlesGetDistinctHandles(t *testing.T) {
	p := &fakeProvider{search: func(string, int) ([]store.Movie, error) {
		return []store.Movie{
			{ID: "1", Title: "Dune", Year: 2021, DetailRef: "1"},
			{ID: "2", Title: "Dune", Year: 2021, DetailRef: "2"},
		}, nil
	}}
	c, _ := newController(p, nil, time.Minute, 10)

	list, err := c.OnQuery(context.Background(), 1, "dune")
	if err != nil {
		t.Fatalf("OnQuery: %v", err)
	}
	if len(list.Choices) != 2 {
		t.Fatalf("got %d choices, want 2 (no de-duplication)", len(list.Choices))
	}
	if list.Choices[0].Handle == list.Choices[1].Handle {
		t.Error("identical titles shared a handle")
	}
}

func TestOnQuerySupersedesPriorResults(t *testing.T) {
	p := &fakeProvider{search: func(string, int) ([]store.Movie, error) {
		return []store.Movie{{ID: "1", Title: "Alien", Year: 1979}}, nil
	}}
	c, s := newController(p, nil, time.Minute, 1)

	first, err := c.OnQuery(context.Background(), 1, "alien")
	if err != nil {
		t.Fatalf("OnQuery: %v", err)
	}
	if _, err := c.OnQuery(context.Background(), 1, "alien again"); err != nil {
		t.Fatalf("OnQuery: %v", err)
	}
	if _, ok := s.GetMovie(1, first.Choices[0].Handle); ok {
		t.Error("handle from the superseded search still resolves")
	}
}

func TestOnMovieChoiceNotFound(t *testing.T) {
	c, _ := newController(&fakeProvider{}, nil, time.Minute, 10)

	_, err := c.OnMovieChoice(context.Background(), 1, "m:does-not-exist")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("OnMovieChoice err = %v, want ErrNotFound", err)
	}
}

func TestOnMovieChoiceNoQualities(t *testing.T) {
	p := &fakeProvider{qualities: func(string) ([]store.Quality, error) { return nil, nil }}
	c, s := newController(p, nil, time.Minute, 10)

	h := s.PutMovie(1, store.Movie{ID: "9", Title: "Obscure", Year: 1931, DetailRef: "9"})
	_, err := c.OnMovieChoice(context.Background(), 1, h)
	if !errors.Is(err, ErrNoQualities) {
		t.Fatalf("OnMovieChoice err = %v, want ErrNoQualities", err)
	}
}

func TestOnQualityChoiceFetchFailure(t *testing.T) {
	f := &fakeFetcher{fetch: func(string, string) (*fetch.Artifact, error) {
		return nil, &fetch.Error{Reason: fetch.ReasonEmpty}
	}}
	c, s := newController(&fakeProvider{}, f, time.Minute, 10)

	q := store.Quality{Label: "1080p", SourceRef: "u1", InfoHash: "beef", Filename: "x.torrent"}
	h := s.PutQuality(1, q)

	_, err := c.OnQualityChoice(context.Background(), 1, h)
	var ff *FetchFailedError
	if !errors.As(err, &ff) {
		t.Fatalf("OnQualityChoice err = %v, want *FetchFailedError", err)
	}
	if ff.Quality.InfoHash != "beef" {
		t.Errorf("FetchFailedError lost the quality: %+v", ff.Quality)
	}
	var fe *fetch.Error
	if !errors.As(err, &fe) || fe.Reason != fetch.ReasonEmpty {
		t.Errorf("underlying fetch error not preserved: %v", err)
	}
}

func TestExpiredQualityChoice(t *testing.T) {
	c, s := newController(&fakeProvider{}, &fakeFetcher{}, time.Nanosecond, 10)

	h := s.PutQuality(1, store.Quality{Label: "720p", SourceRef: "u1"})
	time.Sleep(time.Millisecond)

	_, err := c.OnQualityChoice(context.Background(), 1, h)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("OnQualityChoice after expiry err = %v, want ErrNotFound", err)
	}
}

// Full walk through the three steps, per the interaction contract.
func TestEndToEnd(t *testing.T) {
	var fetchedRef string
	p := &fakeProvider{
		search: func(query string, _ int) ([]store.Movie, error) {
			if query != "Interstellar" {
				t.Errorf("search query = %q", query)
			}
			return []store.Movie{{ID: "1", Title: "Interstellar", Year: 2014, DetailRef: "1"}}, nil
		},
		qualities: func(detailRef string) ([]store.Quality, error) {
			if detailRef != "1" {
				t.Errorf("detailRef = %q", detailRef)
			}
			return []store.Quality{{Label: "1080p · 2.1GB", SizeLabel: "2.1GB", SourceRef: "u1", Filename: "interstellar.torrent"}}, nil
		},
	}
	f := &fakeFetcher{fetch: func(sourceRef, filename string) (*fetch.Artifact, error) {
		fetchedRef = sourceRef
		return &fetch.Artifact{Path: "/tmp/fake", Name: filename, Size: 7}, nil
	}}
	c, _ := newController(p, f, time.Minute, 10)

	list, err := c.OnQuery(context.Background(), 99, "Interstellar")
	if err != nil {
		t.Fatalf("OnQuery: %v", err)
	}
	if len(list.Choices) != 1 {
		t.Fatalf("got %d movie choices, want 1", len(list.Choices))
	}
	h1 := list.Choices[0].Handle

	quals, err := c.OnMovieChoice(context.Background(), 99, h1)
	if err != nil {
		t.Fatalf("OnMovieChoice: %v", err)
	}
	if len(quals.Choices) != 1 {
		t.Fatalf("got %d quality choices, want 1", len(quals.Choices))
	}
	h2 := quals.Choices[0].Handle
	if h2 == h1 {
		t.Error("quality handle equals movie handle")
	}

	del, err := c.OnQualityChoice(context.Background(), 99, h2)
	if err != nil {
		t.Fatalf("OnQualityChoice: %v", err)
	}
	if fetchedRef != "u1" {
		t.Errorf("fetched sourceRef = %q, want \"u1\"", fetchedRef)
	}
	if del.Artifact.Name != "interstellar.torrent" {
		t.Errorf("artifact name = %q", del.Artifact.Name)
	}

	// Re-selecting the same handle before expiry fetches the same ref.
	if _, err := c.OnQualityChoice(context.Background(), 99, h2); err != nil {
		t.Fatalf("second OnQualityChoice: %v", err)
	}
	if fetchedRef != "u1" {
		t.Errorf("re-fetch sourceRef = %q, want \"u1\"", fetchedRef)
	}
}
