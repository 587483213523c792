package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pbaille/todotree/internal/domain"
	"github.com/pbaille/todotree/internal/entry"
	"github.com/pbaille/todotree/internal/metrics"
	"github.com/pbaille/todotree/internal/store"
)

// maxBodyBytes bounds the size of a save payload.
const maxBodyBytes = 10 << 20

// Server handles HTTP requests for the to-do API
type Server struct {
	dataDir string
	addr    string
	index   *store.Store
	logger  *log.Logger
	metrics *metrics.Metrics

	// mu serializes handlers that touch the data directory.
	mu sync.Mutex
}

// Option customizes a Server.
type Option func(*Server)

// WithIndex keeps the given title index in sync after every change.
func WithIndex(idx *store.Store) Option {
	return func(s *Server) { s.index = idx }
}

// WithLogger sets the server logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics instruments handlers and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a new API server over the records in dataDir
func New(dataDir, addr string, opts ...Option) *Server {
	s := &Server{dataDir: dataDir, addr: addr}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	return s
}

// Handler returns the routed handler with CORS applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.HandlerFunc) {
		mux.Handle(pattern, s.metrics.Instrument(name, h))
	}

	// Entries
	route("GET /api/entries/{$}", "entries", s.listEntries)
	route("GET /api/entries/{id}", "entry", s.getEntry)
	route("POST /api/save_entries/{$}", "save_entries", s.saveEntries)
	route("DELETE /api/delete_entry/{id}", "delete_entry", s.deleteEntry)
	route("POST /api/cleanup_orphaned/{$}", "cleanup_orphaned", s.cleanupOrphaned)

	// Search
	route("GET /api/search", "search", s.searchEntries)

	// Health check
	mux.HandleFunc("GET /health", s.health)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return withCORS(mux)
}

// Run starts the HTTP server
func (s *Server) Run() error {
	s.logger.Info("starting server", "addr", s.addr, "data", s.dataDir)
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// withCORS lets any origin call the API
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,PUT,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) manager() *entry.Manager {
	return entry.NewManager(s.dataDir, entry.WithLogger(s.logger), entry.WithMetrics(s.metrics))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.manager()
	if err := m.Load(); err != nil {
		s.logger.Error("load entries", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	records := make([]domain.Record, 0, len(m.Entries()))
	for _, e := range m.Entries() {
		records = append(records, e.ToRecord())
	}
	writeJSON(w, http.StatusOK, records)
}

// getEntry answers from the index: the entry's row and its direct children.
func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, "search index disabled")
		return
	}
	id := r.PathValue("id")

	e, err := s.index.GetEntry(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	children, err := s.index.Children(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if children == nil {
		children = []domain.IndexedEntry{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entry":    e,
		"children": children,
	})
}

func (s *Server) saveEntries(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := domain.ValidateRecords(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := domain.DecodeRecords(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries := make([]*entry.Entry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, entry.FromRecord(rec))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.manager()
	m.Replace(entries)
	if err := m.Save(); err != nil {
		s.logger.Error("save entries", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.syncIndex(m)

	writeJSON(w, http.StatusOK, domain.Status{Status: "success"})
}

func (s *Server) deleteEntry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.manager()
	if err := m.Load(); err != nil {
		s.logger.Error("load entries", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if _, found := m.DeleteEntry(id); !found {
		writeJSON(w, http.StatusNotFound, domain.Status{Status: "error"})
		return
	}

	if err := m.Save(); err != nil {
		s.logger.Error("save entries", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.syncIndex(m)

	writeJSON(w, http.StatusOK, domain.Status{Status: "success"})
}

func (s *Server) cleanupOrphaned(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.manager()
	if err := m.Load(); err != nil {
		s.logger.Error("load entries", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	removed, err := m.CleanupOrphans()
	if err != nil {
		s.logger.Error("cleanup orphans", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.syncIndex(m)

	writeJSON(w, http.StatusOK, domain.Status{Status: "success", Removed: removed})
}

func (s *Server) searchEntries(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusServiceUnavailable, "search index disabled")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	entries, err := s.index.SearchEntries(query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []domain.IndexedEntry{}
	}

	limit := len(entries)
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n < limit {
			limit = n
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries[:limit],
		"query":   query,
	})
}

// Reindex loads the data directory and rebuilds the title index from it.
func (s *Server) Reindex() error {
	if s.index == nil {
		return errors.New("search index disabled")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.manager()
	if err := m.Load(); err != nil {
		return err
	}
	return s.sync(m)
}

// syncIndex refreshes the index after a change; failures are logged only,
// the record files remain authoritative.
func (s *Server) syncIndex(m *entry.Manager) {
	if s.index == nil {
		return
	}
	if err := s.sync(m); err != nil {
		s.logger.Warn("index sync failed", "error", err)
	}
}

func (s *Server) sync(m *entry.Manager) error {
	start := time.Now()
	records := make([]domain.Record, 0, len(m.Entries()))
	for _, e := range m.Entries() {
		records = append(records, e.ToRecord())
	}
	if err := s.index.Sync(records); err != nil {
		return err
	}
	s.metrics.ObserveIndexSync(time.Since(start).Seconds())
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, domain.Status{Status: "error", Error: message})
}
