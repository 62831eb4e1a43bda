// Package store keeps the transient search state behind the bot's
// inline keyboards: every button the bot sends carries an opaque handle,
// and this package maps handles back to the movie or quality option they
// were minted for. Entries are partitioned by chat, expire after a TTL,
// and a whole chat's entries are superseded by its next search.
package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates what a handle points at. It is carried as the
// handle's prefix so the update handler resolves it exactly once.
type Kind int

const (
	KindUnknown Kind = iota
	KindMovie
	KindQuality
)

const (
	moviePrefix   = "m:"
	qualityPrefix = "q:"
)

// Movie is one search hit, enough to request its quality options later.
type Movie struct {
	ID        string
	Title     string
	Year      int
	DetailRef string
}

// Quality is one downloadable variant of a chosen movie.
type Quality struct {
	Label     string
	SizeLabel string
	SourceRef string
	InfoHash  string
	Filename  string
}

type entry struct {
	movie   *Movie
	quality *Quality
	created time.Time
}

// Store is an in-memory handle registry with per-chat partitions and a
// fixed TTL. All methods are safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[int64]map[string]entry
}

// New returns a Store whose entries live for ttl after insertion.
func New(ttl time.Duration) *Store {
	return &Store{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[int64]map[string]entry),
	}
}

// ParseHandle reports what kind of entry a callback handle refers to.
func ParseHandle(handle string) Kind {
	switch {
	case strings.HasPrefix(handle, moviePrefix):
		return KindMovie
	case strings.HasPrefix(handle, qualityPrefix):
		return KindQuality
	default:
		return KindUnknown
	}
}

// PutMovie stores a search hit for the session and returns its handle.
func (s *Store) PutMovie(session int64, m Movie) string {
	return s.put(session, moviePrefix, entry{movie: &m})
}

// PutQuality stores a quality option for the session and returns its handle.
func (s *Store) PutQuality(session int64, q Quality) string {
	return s.put(session, qualityPrefix, entry{quality: &q})
}

func (s *Store) put(session int64, prefix string, e entry) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.sessions[session]
	if entries == nil {
		entries = make(map[string]entry)
		s.sessions[session] = entries
	}

	e.created = s.now()
	handle := prefix + uuid.NewString()
	for {
		if _, taken := entries[handle]; !taken {
			break
		}
		handle = prefix + uuid.NewString()
	}
	entries[handle] = e
	return handle
}

// GetMovie resolves a movie handle. A stale or foreign handle is a
// normal miss, not an error.
func (s *Store) GetMovie(session int64, handle string) (Movie, bool) {
	e, ok := s.get(session, handle)
	if !ok || e.movie == nil {
		return Movie{}, false
	}
	return *e.movie, true
}

// GetQuality resolves a quality handle.
func (s *Store) GetQuality(session int64, handle string) (Quality, bool) {
	e, ok := s.get(session, handle)
	if !ok || e.quality == nil {
		return Quality{}, false
	}
	return *e.quality, true
}

func (s *Store) get(session int64, handle string) (entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.sessions[session]
	e, ok := entries[handle]
	if !ok {
		return entry{}, false
	}
	if s.expired(e, s.now()) {
		delete(entries, handle)
		if len(entries) == 0 {
			delete(s.sessions, session)
		}
		return entry{}, false
	}
	return e, true
}

// Clear drops every entry the session accumulated. Called when a new
// search supersedes the previous results.
func (s *Store) Clear(session int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, session)
}

func (s *Store) expired(e entry, now time.Time) bool {
	return now.Sub(e.created) >= s.ttl
}

// Sweep removes every expired entry and returns how many were dropped.
// Lazy expiry in get keeps correctness; the sweep bounds memory for
// sessions that went quiet without clicking anything.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for session, entries := range s.sessions {
		for handle, e := range entries {
			if s.expired(e, now) {
				delete(entries, handle)
				removed++
			}
		}
		if len(entries) == 0 {
			delete(s.sessions, session)
		}
	}
	return removed
}

// Run sweeps at the given interval until ctx is done. Intended to be
// started once from main.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
