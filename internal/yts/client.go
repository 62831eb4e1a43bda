// Package yts talks to a YTS-compatible movie/torrent metadata API.
package yts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"movieflix-tg-bot/internal/store"
)

type Client struct {
	apiBase string
	hc      *http.Client
	limiter *rate.Limiter
	search  singleflight.Group
}

func NewClient(apiBase string) *Client {
	return &Client{
		apiBase: strings.TrimRight(apiBase, "/"),
		hc:      &http.Client{Timeout: 9 * time.Second},
		// The public API throttles aggressive clients; stay polite.
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 2),
	}
}

type listMoviesResponse struct {
	Status string `json:"status"`
	Data   struct {
		MovieCount int         `json:"movie_count"`
		Movies     []wireMovie `json:"movies"`
	} `json:"data"`
}

type movieDetailsResponse struct {
	Status string `json:"status"`
	Data   struct {
		Movie wireMovie `json:"movie"`
	} `json:"data"`
}

type wireMovie struct {
	ID       int           `json:"id"`
	Title    string        `json:"title"`
	TitleEng string        `json:"title_english"`
	Year     int           `json:"year"`
	Torrents []wireTorrent `json:"torrents"`
}

type wireTorrent struct {
	URL     string `json:"url"`
	Hash    string `json:"hash"`
	Quality string `json:"quality"`
	Type    string `json:"type"`
	Size    string `json:"size"`
}

// SearchMovies runs a title search and maps the hits to store entries.
// Concurrent identical queries from different chats are collapsed into
// one upstream call.
func (c *Client) SearchMovies(ctx context.Context, query string, limit int) ([]store.Movie, error) {
	key := fmt.Sprintf("%d:%s", limit, strings.ToLower(strings.TrimSpace(query)))
	v, err, _ := c.search.Do(key, func() (any, error) {
		return c.searchMovies(ctx, query, limit)
	})
	if err != nil {
		return nil, err
	}
	return v.([]store.Movie), nil
}

func (c *Client) searchMovies(ctx context.Context, query string, limit int) ([]store.Movie, error) {
	u, _ := url.Parse(c.apiBase + "/api/v2/list_movies.json")
	q := u.Query()
	q.Set("query_term", query)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	var out listMoviesResponse
	if err := c.getJSON(ctx, u.String(), &out); err != nil {
		return nil, err
	}
	if out.Status != "ok" {
		return nil, fmt.Errorf("yts list_movies status %q", out.Status)
	}

	movies := make([]store.Movie, 0, len(out.Data.Movies))
	for _, m := range out.Data.Movies {
		if m.ID == 0 {
			continue
		}
		id := strconv.Itoa(m.ID)
		movies = append(movies, store.Movie{
			ID:        id,
			Title:     pickTitle(m),
			Year:      m.Year,
			DetailRef: id,
		})
	}
	return movies, nil
}

// MovieQualities fetches a movie's detail record and maps each torrent
// variant to a store quality option.
func (c *Client) MovieQualities(ctx context.Context, detailRef string) ([]store.Quality, error) {
	u, _ := url.Parse(c.apiBase + "/api/v2/movie_details.json")
	q := u.Query()
	q.Set("movie_id", detailRef)
	u.RawQuery = q.Encode()

	var out movieDetailsResponse
	if err := c.getJSON(ctx, u.String(), &out); err != nil {
		return nil, err
	}
	if out.Status != "ok" {
		return nil, fmt.Errorf("yts movie_details status %q", out.Status)
	}

	m := out.Data.Movie
	title := pickTitle(m)
	qualities := make([]store.Quality, 0, len(m.Torrents))
	for _, t := range m.Torrents {
		if t.URL == "" {
			continue
		}
		label := t.Quality
		if t.Type != "" {
			label = fmt.Sprintf("%s %s", t.Quality, t.Type)
		}
		if t.Size != "" {
			label = fmt.Sprintf("%s · %s", label, t.Size)
		}
		qualities = append(qualities, store.Quality{
			Label:     label,
			SizeLabel: t.Size,
			SourceRef: t.URL,
			InfoHash:  t.Hash,
			Filename:  torrentFilename(title, m.Year, t.Quality),
		})
	}
	return qualities, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, dest any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("yts status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(dest)
}

func pickTitle(m wireMovie) string {
	if m.Title != "" {
		return m.Title
	}
	return m.TitleEng
}

var filenameReplacer = strings.NewReplacer("/", "-", "\\", "-", ":", "", "*", "", "?", "", "\"", "", "<", "", ">", "", "|", "")

func torrentFilename(title string, year int, quality string) string {
	name := fmt.Sprintf("%s (%d) [%s].torrent", title, year, quality)
	return filenameReplacer.Replace(name)
}

var magnetTrackers = []string{
	"udp://open.demonii.com:1337/announce",
	"udp://tracker.openbittorrent.com:80",
	"udp://tracker.coppersurfer.tk:6969",
	"udp://glotorrents.pw:6969/announce",
	"udp://tracker.opentrackr.org:1337/announce",
}

// MagnetLink builds the fallback representation for a torrent that could
// not be delivered as a file.
func MagnetLink(infoHash, displayName string) string {
	var b strings.Builder
	b.WriteString("magnet:?xt=urn:btih:")
	b.WriteString(infoHash)
	b.WriteString("&dn=")
	b.WriteString(url.QueryEscape(displayName))
	for _, tr := range magnetTrackers {
		b.WriteString("&tr=")
		b.WriteString(url.QueryEscape(tr))
	}
	return b.String()
}
