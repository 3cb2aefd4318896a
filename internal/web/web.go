package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/cors"

	"hpvcal/internal/agenda"
	"hpvcal/internal/feeds"
	appLog "hpvcal/internal/log"
	"hpvcal/internal/model"
)

// Store is the part of *feeds.Store the HTTP layer reads from.
type Store interface {
	ResolveKind(name string) ([]string, error)
	DefaultKind() string
	Snapshot(ctx context.Context) (*feeds.Snapshot, error)
	Current() *feeds.Snapshot
	NextRefresh() time.Time
}

// Options configure the API. Zero values fall back to defaults.
type Options struct {
	Rules    agenda.ClubRules
	Window   time.Duration
	MaxSkips int
	// AllowedOrigins for CORS; empty allows any origin.
	AllowedOrigins []string
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// settings is the reloadable part of Options.
type settings struct {
	agg    *agenda.Aggregator
	window time.Duration
}

// Server provides the calendar HTTP API.
type Server struct {
	store   Store
	clock   func() time.Time
	origins []string
	mux     *http.ServeMux

	mu  sync.RWMutex
	cur settings
}

const defaultWindow = 31 * 24 * time.Hour

// NewServer constructs a new Server.
func NewServer(store Store, opts Options) *Server {
	s := &Server{
		store:   store,
		clock:   opts.Clock,
		origins: opts.AllowedOrigins,
		mux:     http.NewServeMux(),
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	s.Reconfigure(opts)
	s.registerRoutes()
	return s
}

// Reconfigure swaps classification rules, window and skip bound, e.g. after
// a config reload. CORS origins and the clock are fixed at construction.
func (s *Server) Reconfigure(opts Options) {
	window := opts.Window
	if window <= 0 {
		window = defaultWindow
	}
	rules := opts.Rules
	if rules.Anchor == "" {
		rules = agenda.DefaultClubRules()
	}

	s.mu.Lock()
	s.cur = settings{agg: agenda.NewAggregator(rules, opts.MaxSkips), window: window}
	s.mu.Unlock()
}

func (s *Server) current() settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Handler returns the routes wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:       origins,
		AllowedMethods:       []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:       []string{"Content-Type"},
		OptionsSuccessStatus: http.StatusOK,
	})
	return c.Handler(s.mux)
}

// ListenAndServe serves the API on addr until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/next", s.handleNext)
	s.mux.HandleFunc("GET /api/feeds", s.handleFeeds)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// occurrenceDTO is the JSON shape of one occurrence. Match fields are only
// present for matches whose teams could be parsed.
type occurrenceDTO struct {
	Feed         string          `json:"feed"`
	UID          string          `json:"uid"`
	Start        time.Time       `json:"start"`
	Title        string          `json:"title"`
	VisibleTitle string          `json:"visible_title"`
	Description  string          `json:"description"`
	Location     string          `json:"location"`
	EventType    model.EventType `json:"event_type"`
	SubType      model.SubType   `json:"sub_type"`
	IsRecurring  bool            `json:"is_recurring"`

	HomeTeamName     *string `json:"home_team_name,omitempty"`
	AwayTeamName     *string `json:"away_team_name,omitempty"`
	HomeIsOurs       *bool   `json:"home_is_ours,omitempty"`
	OpponentTeamName *string `json:"opponent_team_name,omitempty"`
}

func toDTO(o model.Occurrence) occurrenceDTO {
	d := occurrenceDTO{
		Feed:         o.Feed,
		UID:          o.UID,
		Start:        o.Start.UTC(),
		Title:        o.Title,
		VisibleTitle: o.VisibleTitle,
		Description:  o.Description,
		Location:     o.Location,
		EventType:    o.EventType,
		SubType:      o.SubType,
		IsRecurring:  o.IsRecurring,
	}
	if m := o.Match; m != nil {
		d.HomeTeamName = &m.HomeTeam
		d.AwayTeamName = &m.AwayTeam
		d.HomeIsOurs = &m.HomeIsOwnClub
		d.OpponentTeamName = &m.Opponent
	}
	return d
}

// handleEvents returns classified occurrences for one kind (or all kinds).
//
// GET /api/events?kind=salibandy&type=match&mode=next
//   - kind (laji):   feed kind or alias, "all" for every kind; unknown
//     values fall back to the default kind
//   - type (tyyppi): all | match | other (kaikki | ottelut | muut)
//   - mode:          windowed (default) | next
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	mode, err := agenda.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.serveOccurrences(w, r, mode)
}

// handleNext is /api/events with mode=next.
func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.serveOccurrences(w, r, agenda.ModeNext)
}

func (s *Server) serveOccurrences(w http.ResponseWriter, r *http.Request, mode agenda.Mode) {
	q := r.URL.Query()
	kindParam := firstNonEmpty(q.Get("kind"), q.Get("laji"))
	filter := agenda.ParseTypeFilter(firstNonEmpty(q.Get("type"), q.Get("tyyppi")))

	kinds, err := s.store.ResolveKind(kindParam)
	if err != nil {
		def := s.store.DefaultKind()
		appLog.Warn("unknown kind; using default", "kind", kindParam, "default", def)
		if kinds, err = s.store.ResolveKind(def); err != nil {
			writeError(w, http.StatusNotFound, "no feeds configured")
			return
		}
	}

	snap, err := s.store.Snapshot(r.Context())
	if err != nil {
		appLog.Error("api events: snapshot unavailable", err)
		writeError(w, http.StatusServiceUnavailable, "calendar data unavailable")
		return
	}

	feedSet, feedErrs, allFailed := snap.Select(kinds)
	if allFailed {
		appLog.Error("api events: every feed failed", errors.Join(feedErrsAsErrors(feedErrs)...), "kinds", kinds)
		writeError(w, http.StatusBadGateway, "failed to fetch calendar feeds")
		return
	}
	if len(feedErrs) > 0 {
		w.Header().Set("X-Feed-Errors", strconv.Itoa(len(feedErrs)))
	}

	cur := s.current()
	now := s.clock()
	occ := cur.agg.Aggregate(agenda.Request{
		Feeds:  feedSet,
		Now:    now,
		Window: cur.window,
		Mode:   mode,
		Filter: filter,
	})

	appLog.Debug("api events request",
		"kinds", kinds,
		"mode", string(mode),
		"type", string(filter),
		"count", len(occ),
		"feed_errors", len(feedErrs),
	)

	dtos := make([]occurrenceDTO, 0, len(occ))
	for _, o := range occ {
		dtos = append(dtos, toDTO(o))
	}
	writeJSON(w, http.StatusOK, dtos)
}

type feedErrorDTO struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

type kindDTO struct {
	Kind    string         `json:"kind"`
	Name    string         `json:"name,omitempty"`
	Sources int            `json:"sources"`
	Events  int            `json:"events"`
	Failed  bool           `json:"failed"`
	Errors  []feedErrorDTO `json:"errors,omitempty"`
}

type feedsResponse struct {
	DefaultKind string     `json:"default_kind"`
	FetchedAt   *time.Time `json:"fetched_at"`
	NextRefresh *time.Time `json:"next_refresh,omitempty"`
	Kinds       []kindDTO  `json:"kinds"`
}

// handleFeeds reports the state of the last refresh without triggering one.
func (s *Server) handleFeeds(w http.ResponseWriter, _ *http.Request) {
	resp := feedsResponse{DefaultKind: s.store.DefaultKind(), Kinds: []kindDTO{}}
	if next := s.store.NextRefresh(); !next.IsZero() {
		resp.NextRefresh = &next
	}

	if snap := s.store.Current(); snap != nil {
		at := snap.FetchedAt.UTC()
		resp.FetchedAt = &at
		for _, k := range snap.Kinds {
			dto := kindDTO{Kind: k.Kind, Name: k.Name, Sources: k.Sources, Failed: k.Failed()}
			for _, f := range k.Feeds {
				dto.Events += len(f.Events)
			}
			for _, e := range k.Errors {
				dto.Errors = append(dto.Errors, feedErrorDTO{URL: e.URL, Error: e.Err.Error()})
			}
			resp.Kinds = append(resp.Kinds, dto)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func feedErrsAsErrors(errs []*feeds.FeedError) []error {
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return out
}

// EncodeOccurrences writes occurrences in the /api/events JSON shape.
func EncodeOccurrences(w io.Writer, occ []model.Occurrence) error {
	dtos := make([]occurrenceDTO, 0, len(occ))
	for _, o := range occ {
		dtos = append(dtos, toDTO(o))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(dtos)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
