package catalog

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/encore/internal/memoize"
	"goflare.io/encore/internal/resilience"
	"goflare.io/encore/internal/utils"
	"goflare.io/encore/pkg/serialization"
)

// Breaker resource names, one per remote endpoint family.
const (
	ResourceSearch    = "catalog.search"
	ResourceTracks    = "catalog.tracks"
	ResourceAlbums    = "catalog.albums"
	ResourceArtists   = "catalog.artists"
	ResourcePlaylists = "catalog.playlists"
	ResourceMe        = "catalog.me"
)

// TTL categories, matching the configuration keys.
const (
	CategorySearch   = "search"
	CategoryTrack    = "track"
	CategoryAlbum    = "album"
	CategoryArtist   = "artist"
	CategoryPlaylist = "playlist"
	CategoryUser     = "user"
)

const defaultTTL = 5 * time.Minute

// API is the remote catalog. *Client implements it.
type API interface {
	SearchTracks(ctx context.Context, query string, limit int) (*SearchResult, error)
	Track(ctx context.Context, id string) (*Track, error)
	Album(ctx context.Context, id string) (*Album, error)
	Artist(ctx context.Context, id string) (*Artist, error)
	Playlist(ctx context.Context, id string) (*Playlist, error)
	CurrentUser(ctx context.Context) (*User, error)
}

type searchArgs struct {
	query string
	limit int
}

// Service serves catalog lookups from the cache and sends misses to the API under
// retry and circuit breaking.
type Service struct {
	logger *zap.Logger

	search   memoize.Func[searchArgs, *SearchResult]
	track    memoize.Func[string, *Track]
	album    memoize.Func[string, *Album]
	artist   memoize.Func[string, *Artist]
	playlist memoize.Func[string, *Playlist]
	user     memoize.Func[struct{}, *User]
}

type serviceOptions struct {
	ttls          map[string]time.Duration
	serialization string
	group         *singleflight.Group
	logger        *zap.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

// WithTTLs sets the TTL per category. Missing categories use five minutes.
func WithTTLs(ttls map[string]time.Duration) ServiceOption {
	return func(o *serviceOptions) {
		o.ttls = ttls
	}
}

// WithSerialization selects the codec used for cached responses.
func WithSerialization(typ string) ServiceOption {
	return func(o *serviceOptions) {
		o.serialization = typ
	}
}

// WithCoalescing collapses concurrent misses for the same lookup.
func WithCoalescing(enabled bool) ServiceOption {
	return func(o *serviceOptions) {
		if enabled {
			o.group = &singleflight.Group{}
		} else {
			o.group = nil
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewService creates a Service.
func NewService(api API, cache memoize.Cacher, res *resilience.Resilience, opts ...ServiceOption) (*Service, error) {
	o := serviceOptions{
		serialization: serialization.JSONType,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	memoOpts := []memoize.Option{memoize.WithLogger(o.logger)}
	if o.group != nil {
		memoOpts = append(memoOpts, memoize.WithSingleflight(o.group))
	}
	ttl := func(category string) time.Duration {
		return utils.ResolveTTL(o.ttls, category, defaultTTL)
	}

	s := &Service{logger: o.logger}
	var err error

	if s.search, err = memoized(cache, o.serialization, ttl(CategorySearch), memoOpts,
		resilience.Wrap(res, ResourceSearch, func(ctx context.Context, a searchArgs) (*SearchResult, error) {
			return api.SearchTracks(ctx, a.query, a.limit)
		}),
		func(a searchArgs) string {
			return utils.CacheKey(CategorySearch, utils.NormalizeQuery(a.query), strconv.Itoa(clampLimit(a.limit)))
		},
	); err != nil {
		return nil, err
	}
	if s.track, err = memoized(cache, o.serialization, ttl(CategoryTrack), memoOpts,
		resilience.Wrap(res, ResourceTracks, api.Track), idKey(CategoryTrack)); err != nil {
		return nil, err
	}
	if s.album, err = memoized(cache, o.serialization, ttl(CategoryAlbum), memoOpts,
		resilience.Wrap(res, ResourceAlbums, api.Album), idKey(CategoryAlbum)); err != nil {
		return nil, err
	}
	if s.artist, err = memoized(cache, o.serialization, ttl(CategoryArtist), memoOpts,
		resilience.Wrap(res, ResourceArtists, api.Artist), idKey(CategoryArtist)); err != nil {
		return nil, err
	}
	if s.playlist, err = memoized(cache, o.serialization, ttl(CategoryPlaylist), memoOpts,
		resilience.Wrap(res, ResourcePlaylists, api.Playlist), idKey(CategoryPlaylist)); err != nil {
		return nil, err
	}
	if s.user, err = memoized(cache, o.serialization, ttl(CategoryUser), memoOpts,
		resilience.Wrap(res, ResourceMe, func(ctx context.Context, _ struct{}) (*User, error) {
			return api.CurrentUser(ctx)
		}),
		func(struct{}) string { return utils.CacheKey(CategoryUser, "me") },
	); err != nil {
		return nil, err
	}

	return s, nil
}

func memoized[A, T any](
	cache memoize.Cacher,
	typ string,
	ttl time.Duration,
	opts []memoize.Option,
	op func(ctx context.Context, arg A) (T, error),
	key func(A) string,
) (memoize.Func[A, T], error) {
	codec, err := serialization.For[T](typ)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return memoize.WithCache(cache, op, key, ttl, codec, opts...), nil
}

func idKey(category string) func(string) string {
	return func(id string) string {
		return utils.CacheKey(category, id)
	}
}

// SearchTracks returns tracks matching query.
func (s *Service) SearchTracks(ctx context.Context, query string, limit int) (*SearchResult, error) {
	return s.search(ctx, searchArgs{query: query, limit: limit})
}

// SearchTracksOrEmpty is SearchTracks for interactive callers: any failure is logged
// and reported as an empty result.
func (s *Service) SearchTracksOrEmpty(ctx context.Context, query string, limit int) *SearchResult {
	res, err := s.SearchTracks(ctx, query, limit)
	if err != nil {
		s.logger.Warn("Track search failed, returning no results", zap.String("query", query), zap.Error(err))
		return &SearchResult{Tracks: []Track{}}
	}
	return res
}

// Track returns the track with the given ID.
func (s *Service) Track(ctx context.Context, id string) (*Track, error) {
	return s.track(ctx, id)
}

// Album returns the album with the given ID.
func (s *Service) Album(ctx context.Context, id string) (*Album, error) {
	return s.album(ctx, id)
}

// Artist returns the artist with the given ID.
func (s *Service) Artist(ctx context.Context, id string) (*Artist, error) {
	return s.artist(ctx, id)
}

// Playlist returns the playlist with the given ID.
func (s *Service) Playlist(ctx context.Context, id string) (*Playlist, error) {
	return s.playlist(ctx, id)
}

// CurrentUser returns the authenticated user's profile.
func (s *Service) CurrentUser(ctx context.Context) (*User, error) {
	return s.user(ctx, struct{}{})
}
