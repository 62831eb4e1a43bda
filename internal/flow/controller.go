// Package flow drives the three-step selection flow: free text starts a
// search, a movie button narrows to quality options, a quality button
// resolves to a fetched torrent descriptor. Which step an input belongs
// to is decided once, from the handle kind, at the transport boundary.
package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"movieflix-tg-bot/internal/fetch"
	"movieflix-tg-bot/internal/store"
)

// Provider is the metadata API the controller searches against.
type Provider interface {
	SearchMovies(ctx context.Context, query string, limit int) ([]store.Movie, error)
	MovieQualities(ctx context.Context, detailRef string) ([]store.Quality, error)
}

// Fetcher retrieves the descriptor for a chosen quality.
type Fetcher interface {
	Fetch(ctx context.Context, sourceRef, filename string) (*fetch.Artifact, error)
}

// Expected, non-fatal outcomes. The bot layer maps each to a fixed
// user-facing prompt.
var (
	ErrNoResults   = errors.New("no search results")
	ErrNotFound    = errors.New("selection expired or unknown")
	ErrNoQualities = errors.New("no quality options available")
)

// ProviderError wraps a search or detail call that failed at the
// transport level. It never reaches the user as a raw fault.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("provider %s: %v", e.Op, e.Err) }
func (e *ProviderError) Unwrap() error { return e.Err }

// FetchFailedError carries the chosen quality along with the fetch
// failure so the caller can offer a magnet fallback.
type FetchFailedError struct {
	Quality store.Quality
	Err     error
}

func (e *FetchFailedError) Error() string { return fmt.Sprintf("fetch %q: %v", e.Quality.Label, e.Err) }
func (e *FetchFailedError) Unwrap() error { return e.Err }

// Choice is one tappable option.
type Choice struct {
	Label  string
	Handle string
}

// ChoiceList is an ordered keyboard the bot renders for one session.
type ChoiceList struct {
	Title   string
	Choices []Choice
}

// Delivery is the terminal outcome of a completed flow.
type Delivery struct {
	Artifact *fetch.Artifact
	Quality  store.Quality
}

type Controller struct {
	provider Provider
	results  *store.Store
	fetcher  Fetcher
	limit    int
	log      zerolog.Logger
}

func NewController(p Provider, results *store.Store, f Fetcher, limit int, log zerolog.Logger) *Controller {
	return &Controller{
		provider: p,
		results:  results,
		fetcher:  f,
		limit:    limit,
		log:      log,
	}
}

// OnQuery searches for text and returns a movie choice list capped at
// the configured limit. A successful search supersedes everything the
// session stored before; a search with no hits stores nothing and
// leaves prior results usable.
func (c *Controller) OnQuery(ctx context.Context, session int64, text string) (*ChoiceList, error) {
	movies, err := c.provider.SearchMovies(ctx, text, c.limit)
	if err != nil {
		return nil, &ProviderError{Op: "search", Err: err}
	}
	if len(movies) == 0 {
		return nil, ErrNoResults
	}
	if len(movies) > c.limit {
		movies = movies[:c.limit]
	}

	c.results.Clear(session)
	list := &ChoiceList{Title: text, Choices: make([]Choice, 0, len(movies))}
	for _, m := range movies {
		handle := c.results.PutMovie(session, m)
		list.Choices = append(list.Choices, Choice{
			Label:  fmt.Sprintf("%s (%d)", m.Title, m.Year),
			Handle: handle,
		})
	}
	c.log.Debug().Int64("session", session).Int("hits", len(list.Choices)).Str("query", text).Msg("search served")
	return list, nil
}

// OnMovieChoice resolves a movie handle and returns its quality options.
func (c *Controller) OnMovieChoice(ctx context.Context, session int64, handle string) (*ChoiceList, error) {
	m, ok := c.results.GetMovie(session, handle)
	if !ok {
		return nil, ErrNotFound
	}

	qualities, err := c.provider.MovieQualities(ctx, m.DetailRef)
	if err != nil {
		return nil, &ProviderError{Op: "detail", Err: err}
	}
	if len(qualities) == 0 {
		return nil, ErrNoQualities
	}

	list := &ChoiceList{
		Title:   fmt.Sprintf("%s (%d)", m.Title, m.Year),
		Choices: make([]Choice, 0, len(qualities)),
	}
	for _, q := range qualities {
		h := c.results.PutQuality(session, q)
		list.Choices = append(list.Choices, Choice{Label: q.Label, Handle: h})
	}
	c.log.Debug().Int64("session", session).Str("movie", m.Title).Int("qualities", len(list.Choices)).Msg("qualities served")
	return list, nil
}

// OnQualityChoice resolves a quality handle and fetches its descriptor.
// Re-selecting the same handle before expiry fetches the same artifact.
func (c *Controller) OnQualityChoice(ctx context.Context, session int64, handle string) (*Delivery, error) {
	q, ok := c.results.GetQuality(session, handle)
	if !ok {
		return nil, ErrNotFound
	}

	art, err := c.fetcher.Fetch(ctx, q.SourceRef, q.Filename)
	if err != nil {
		return nil, &FetchFailedError{Quality: q, Err: err}
	}
	c.log.Debug().Int64("session", session).Str("quality", q.Label).Int64("size", art.Size).Msg("descriptor fetched")
	return &Delivery{Artifact: art, Quality: q}, nil
}
