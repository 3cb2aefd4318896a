// Package feeds keeps the latest parsed content of every configured calendar
// feed and refreshes it on demand or on a cron schedule.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"hpvcal/internal/agenda"
	"hpvcal/internal/config"
	"hpvcal/internal/ics"
	appLog "hpvcal/internal/log"
)

// AllKinds selects every configured kind.
const AllKinds = "all"

// refreshTimeout bounds one shared refresh.
const refreshTimeout = 2 * time.Minute

// ErrUnknownKind is returned by ResolveKind for a name that is neither a
// configured kind, one of its aliases, nor AllKinds.
var ErrUnknownKind = errors.New("unknown feed kind")

// FeedError records why one feed URL contributed nothing to a snapshot.
type FeedError struct {
	Kind string
	// URL is redacted; feed URLs may carry access tokens.
	URL string
	Err error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed %s (%s): %v", e.Kind, e.URL, e.Err)
}

func (e *FeedError) Unwrap() error { return e.Err }

// Fetcher is the part of *ics.Fetcher the store needs.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []ics.Source) []ics.FetchResult
}

// KindSnapshot is the parsed content of one kind's feeds.
type KindSnapshot struct {
	Kind    string
	Name    string
	Feeds   []agenda.Feed
	Errors  []*FeedError
	Sources int
}

// Failed reports whether every feed of the kind failed.
func (k *KindSnapshot) Failed() bool {
	return k.Sources > 0 && len(k.Errors) == k.Sources
}

// Snapshot is one complete refresh of all configured feeds. It is never
// modified after publication.
type Snapshot struct {
	FetchedAt time.Time
	Kinds     []*KindSnapshot
}

// Kind returns the snapshot of a single kind, or nil.
func (s *Snapshot) Kind(kind string) *KindSnapshot {
	for _, k := range s.Kinds {
		if k.Kind == kind {
			return k
		}
	}
	return nil
}

// Select gathers the feeds and errors of the given kinds. allFailed is true
// when at least one feed was configured and none produced data.
func (s *Snapshot) Select(kinds []string) (feeds []agenda.Feed, errs []*FeedError, allFailed bool) {
	sources := 0
	for _, name := range kinds {
		k := s.Kind(name)
		if k == nil {
			continue
		}
		feeds = append(feeds, k.Feeds...)
		errs = append(errs, k.Errors...)
		sources += k.Sources
	}
	return feeds, errs, sources > 0 && len(errs) == sources
}

// Options tune a Store.
type Options struct {
	// DefaultKind resolves empty kind names.
	DefaultKind string
	// TTL is how old a snapshot may be before Snapshot refreshes it.
	// Zero means only explicit or scheduled refreshes.
	TTL time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Store holds the most recent Snapshot. Refreshes build a new snapshot
// off to the side and swap it in whole.
type Store struct {
	fetcher Fetcher
	ttl     time.Duration
	clock   func() time.Time

	mu          sync.RWMutex
	kinds       []config.FeedConfig
	defaultKind string

	current atomic.Pointer[Snapshot]
	group   singleflight.Group

	schedMu sync.Mutex
	sched   *scheduler
}

// NewStore creates a Store over the given feed kinds. Nothing is fetched
// until the first Refresh or Snapshot.
func NewStore(fetcher Fetcher, kinds []config.FeedConfig, opts Options) *Store {
	s := &Store{
		fetcher: fetcher,
		ttl:     opts.TTL,
		clock:   opts.Clock,
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	s.SetKinds(kinds, opts.DefaultKind)
	return s
}

// SetKinds replaces the configured kinds, e.g. after a config reload. The
// current snapshot is kept until the next refresh.
func (s *Store) SetKinds(kinds []config.FeedConfig, defaultKind string) {
	cp := make([]config.FeedConfig, len(kinds))
	for i, k := range kinds {
		k.Kind = strings.ToLower(k.Kind)
		k.Aliases = slices.Clone(k.Aliases)
		k.URLs = slices.Clone(k.URLs)
		cp[i] = k
	}

	s.mu.Lock()
	s.kinds = cp
	s.defaultKind = strings.ToLower(defaultKind)
	if s.defaultKind == "" && len(cp) > 0 {
		s.defaultKind = cp[0].Kind
	}
	s.mu.Unlock()
}

// DefaultKind returns the kind used for empty or unknown names.
func (s *Store) DefaultKind() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultKind
}

// ResolveKind maps a query value to configured kinds. Matching ignores case
// and surrounding space; aliases such as "jääkiekko" resolve to their kind.
// Empty input selects the default kind, AllKinds selects every kind in
// configuration order.
func (s *Store) ResolveKind(name string) ([]string, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	s.mu.RLock()
	defer s.mu.RUnlock()

	switch name {
	case "":
		if s.defaultKind == "" {
			return nil, ErrUnknownKind
		}
		return []string{s.defaultKind}, nil
	case AllKinds:
		out := make([]string, 0, len(s.kinds))
		for _, k := range s.kinds {
			out = append(out, k.Kind)
		}
		return out, nil
	}

	for _, k := range s.kinds {
		if k.Kind == name || slices.ContainsFunc(k.Aliases, func(a string) bool { return strings.ToLower(a) == name }) {
			return []string{k.Kind}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// Current returns the last published snapshot without refreshing. It is nil
// before the first refresh completes.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Snapshot returns the current snapshot, refreshing first when there is none
// yet or it is older than the TTL.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := s.current.Load()
	if snap != nil && (s.ttl <= 0 || s.clock().Sub(snap.FetchedAt) < s.ttl) {
		return snap, nil
	}
	return s.Refresh(ctx)
}

// Refresh fetches and parses every configured feed and publishes the result
// as the new snapshot. Concurrent callers share one refresh, which runs
// detached from any single caller and is bounded by refreshTimeout. Failures
// of individual feeds are recorded in the snapshot. A caller whose ctx ends
// first gets ctx.Err(); the shared refresh carries on for the others.
func (s *Store) Refresh(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := s.group.DoChan("refresh", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return s.refresh(rctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

func (s *Store) refresh(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	kinds := s.kinds
	s.mu.RUnlock()

	var sources []ics.Source
	for _, k := range kinds {
		for _, u := range k.URLs {
			sources = append(sources, ics.Source{Kind: k.Kind, URL: u})
		}
	}

	started := s.clock()
	results := s.fetcher.FetchAll(ctx, sources)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := &Snapshot{FetchedAt: s.clock()}
	byKind := make(map[string]*KindSnapshot, len(kinds))
	for _, k := range kinds {
		ks := &KindSnapshot{Kind: k.Kind, Name: k.Name, Sources: len(k.URLs)}
		byKind[k.Kind] = ks
		snap.Kinds = append(snap.Kinds, ks)
	}

	events := 0
	for _, res := range results {
		ks := byKind[res.Source.Kind]
		if res.Err != nil {
			ks.Errors = append(ks.Errors, &FeedError{Kind: ks.Kind, URL: ics.RedactURL(res.Source.URL), Err: res.Err})
			continue
		}
		defs, err := ics.ParseICS(res.Source, res.Body)
		if err != nil {
			ks.Errors = append(ks.Errors, &FeedError{Kind: ks.Kind, URL: ics.RedactURL(res.Source.URL), Err: err})
			continue
		}
		ks.Feeds = append(ks.Feeds, agenda.Feed{Kind: ks.Kind, Events: defs})
		events += len(defs)
	}

	s.current.Store(snap)

	failed := 0
	for _, ks := range snap.Kinds {
		failed += len(ks.Errors)
	}
	appLog.Info("feeds refreshed",
		"kinds", len(snap.Kinds),
		"sources", len(sources),
		"failed", failed,
		"events", events,
		"took_ms", snap.FetchedAt.Sub(started).Milliseconds(),
	)
	return snap, nil
}
