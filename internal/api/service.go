// Package api provides the HTTP handlers for ingesting contract events and
// querying positions, reward states and active stakes.
//
// All quantities use shopspring/decimal, never float64 for money or points.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/creatureboring/accounting-engine/internal/event"
	"github.com/creatureboring/accounting-engine/internal/indexer"
	"github.com/creatureboring/accounting-engine/internal/model"
	"github.com/creatureboring/accounting-engine/internal/store"
)

// maxEventBytes bounds the encoded size of one event in an ingest body.
const maxEventBytes = 4 << 10

// maxBodyBytes bounds an ingest body when no batch limit is configured.
const maxBodyBytes = 32 << 20

// Service handles ingestion and queries. Uses a mutex so that batches are
// applied one after another in arrival order (single writer).
type Service struct {
	store    store.Store
	proc     *indexer.Processor
	maxBatch int
	limiter  *rate.Limiter // optional ingest rate limit
	mu       sync.Mutex
	now      func() time.Time
}

// NewService creates a new API service. Pass nil for limiter to accept
// batches at any rate.
func NewService(st store.Store, proc *indexer.Processor, maxBatch int, limiter *rate.Limiter) *Service {
	return &Service{
		store:    st,
		proc:     proc,
		maxBatch: maxBatch,
		limiter:  limiter,
		now:      time.Now,
	}
}

// --- Request/Response types ---

// IngestResponse is the JSON body returned from POST /events.
type IngestResponse struct {
	BatchID    string `json:"batch_id"`
	Received   int    `json:"received"`
	Applied    int    `json:"applied"`
	Skipped    int    `json:"skipped"`
	Violations int    `json:"violations"`
	Noop       int    `json:"noop"`
}

func (r *IngestResponse) count(o indexer.Outcome) {
	switch o {
	case indexer.OutcomeApplied:
		r.Applied++
	case indexer.OutcomeSkipped:
		r.Skipped++
	case indexer.OutcomeViolation:
		r.Violations++
	case indexer.OutcomeNoop:
		r.Noop++
	}
}

// RewardsResponse is the JSON body returned from GET /rewards/{account}.
type RewardsResponse struct {
	State  model.RewardState `json:"state"`
	At     int64             `json:"at"`
	Points decimal.Decimal   `json:"points"`
}

func (s *Service) bodyLimit() int64 {
	if s.maxBatch <= 0 {
		return maxBodyBytes
	}
	return int64(s.maxBatch) * maxEventBytes
}

// --- HTTP Handlers ---

// IngestEvents handles POST /api/v1/events. The body is a JSON array of
// events in chain order. The whole batch is decoded before any event is
// applied, so a malformed event rejects the batch without side effects.
func (s *Service) IngestEvents(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, "ingest rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.bodyLimit())

	var raws []event.Raw
	if err := json.NewDecoder(r.Body).Decode(&raws); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "request body exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(raws) == 0 {
		writeError(w, "batch is empty", http.StatusBadRequest)
		return
	}
	if s.maxBatch > 0 && len(raws) > s.maxBatch {
		writeError(w, "batch exceeds "+strconv.Itoa(s.maxBatch)+" events", http.StatusRequestEntityTooLarge)
		return
	}

	envs := make([]*event.Envelope, 0, len(raws))
	for i, raw := range raws {
		env, err := event.Decode(raw)
		if err != nil {
			writeError(w, "event "+strconv.Itoa(i)+": "+err.Error(), http.StatusBadRequest)
			return
		}
		envs = append(envs, env)
	}

	resp := IngestResponse{
		BatchID:  uuid.New().String(),
		Received: len(envs),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := r.Context()
	for _, env := range envs {
		outcome, err := s.proc.Process(ctx, env)
		if err != nil {
			slog.Error("event processing failed",
				"batch", resp.BatchID,
				"event", env.ID(),
				"err", err,
			)
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":  "failed to process event " + env.ID(),
				"result": resp,
			})
			return
		}
		resp.count(outcome)
	}

	slog.Info("batch ingested",
		"batch", resp.BatchID,
		"received", resp.Received,
		"applied", resp.Applied,
		"skipped", resp.Skipped,
		"violations", resp.Violations,
	)

	writeJSON(w, http.StatusOK, resp)
}

// GetAsset handles GET /api/v1/assets/{assetID}: price and trade totals.
func (s *Service) GetAsset(w http.ResponseWriter, r *http.Request) {
	assetID, err := event.ParseAddress(chi.URLParam(r, "assetID"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	a, err := s.store.GetAsset(r.Context(), assetID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "asset not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load asset", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// GetPosition handles GET /api/v1/positions/{assetID}/{account}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	assetID, account, ok := positionParams(w, r)
	if !ok {
		return
	}

	pos, err := s.store.GetPosition(r.Context(), assetID, account)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "position not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load position", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// GetSnapshots handles GET /api/v1/positions/{assetID}/{account}/snapshots
func (s *Service) GetSnapshots(w http.ResponseWriter, r *http.Request) {
	assetID, account, ok := positionParams(w, r)
	if !ok {
		return
	}

	snaps, err := s.store.ListPositionSnapshots(r.Context(), assetID, account)
	if err != nil {
		writeError(w, "failed to load snapshots", http.StatusInternalServerError)
		return
	}
	if snaps == nil {
		snaps = []model.PositionSnapshot{}
	}

	writeJSON(w, http.StatusOK, snaps)
}

// GetRewards handles GET /api/v1/rewards/{account}?at=<unix seconds>
// Returns the stored state and the points projected to at (default now).
func (s *Service) GetRewards(w http.ResponseWriter, r *http.Request) {
	account, err := event.ParseAddress(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	at := s.now().Unix()
	if v := r.URL.Query().Get("at"); v != "" {
		if at, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, "at must be a unix timestamp", http.StatusBadRequest)
			return
		}
	}

	state, err := s.store.GetRewardState(r.Context(), account)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "account has never staked", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load reward state", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, RewardsResponse{
		State:  *state,
		At:     at,
		Points: state.PointsAt(at),
	})
}

// GetStakes handles GET /api/v1/stakes/{account}
func (s *Service) GetStakes(w http.ResponseWriter, r *http.Request) {
	account, err := event.ParseAddress(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := s.store.ListStakeRecordsByOwner(r.Context(), account)
	if err != nil {
		writeError(w, "failed to load stakes", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.StakeRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

// Routes mounts the API handlers on r.
func (s *Service) Routes(r chi.Router, hub *WSHub) {
	if hub != nil {
		// WebSocket endpoint for real-time ledger updates.
		r.Get("/ws", hub.HandleWS)
	}

	r.Post("/events", s.IngestEvents)
	r.Get("/assets/{assetID}", s.GetAsset)
	r.Get("/positions/{assetID}/{account}", s.GetPosition)
	r.Get("/positions/{assetID}/{account}/snapshots", s.GetSnapshots)
	r.Get("/rewards/{account}", s.GetRewards)
	r.Get("/stakes/{account}", s.GetStakes)
}

func positionParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	assetID, err := event.ParseAddress(chi.URLParam(r, "assetID"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return "", "", false
	}
	account, err := event.ParseAddress(chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return "", "", false
	}
	return assetID, account, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
