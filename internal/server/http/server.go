package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/while-basic/celaya-parachain-sub004/internal/journal"
	"github.com/while-basic/celaya-parachain-sub004/internal/mq"
	"github.com/while-basic/celaya-parachain-sub004/internal/runtime"
	"github.com/while-basic/celaya-parachain-sub004/pkg/log"
	"github.com/while-basic/celaya-parachain-sub004/pkg/weight"
)

type Server struct {
	rt     *runtime.Runtime
	srv    *http.Server
	lis    net.Listener
	logger log.Logger

	// enqLimiter throttles enqueue requests; nil means unlimited.
	enqLimiter *rate.Limiter
}

func New(rt *runtime.Runtime, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	s := &Server{rt: rt, logger: logger.With(log.Component("http"))}
	if r := rt.Config().HTTP.EnqueueRate; r > 0 {
		burst := rt.Config().HTTP.EnqueueBurst
		if burst <= 0 {
			burst = 1
		}
		s.enqLimiter = rate.NewLimiter(rate.Limit(r), burst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/enqueue", s.handleEnqueue)
	mux.HandleFunc("/v1/service", s.handleService)
	mux.HandleFunc("/v1/footprint", s.handleFootprint)
	mux.HandleFunc("/v1/overweight", s.handleOverweightList)
	mux.HandleFunc("/v1/overweight/execute", s.handleOverweightExecute)
	mux.HandleFunc("/v1/overweight/discard", s.handleOverweightDiscard)
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/events/trim", s.handleEventsTrim)
	mux.Handle("/metrics", rt.Collector().Handler())
	s.srv = &http.Server{Handler: cors(mux)}
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("http server listening", log.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// engineStatus maps queue errors onto HTTP statuses.
func engineStatus(err error) int {
	switch {
	case errors.Is(err, mq.ErrBadOrigin):
		return http.StatusBadRequest
	case errors.Is(err, mq.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, mq.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, mq.ErrReentrant):
		return http.StatusConflict
	case errors.Is(err, mq.ErrInsufficientWeight):
		return http.StatusUnprocessableEntity
	case errors.Is(err, mq.ErrExecuteFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type enqueueReq struct {
	Origin  string `json:"origin"`
	Payload []byte `json:"payload"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.enqLimiter != nil && !s.enqLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, errors.New("enqueue rate exceeded"))
		return
	}
	var req enqueueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rt.Engine().Enqueue(r.Context(), req.Origin, req.Payload); err != nil {
		writeError(w, engineStatus(err), err)
		return
	}
	s.rt.Collector().MessageEnqueued(req.Origin)
	writeJSON(w, http.StatusAccepted, map[string]any{"origin": req.Origin, "size": len(req.Payload)})
}

type serviceReq struct {
	Weight uint64 `json:"weight"`
}

func (s *Server) handleService(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req serviceReq
	if r.Body != nil {
		// An empty body selects the configured default budget.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	limit := weight.Weight(req.Weight)
	if limit == 0 {
		limit = weight.Weight(s.rt.Config().Queue.ServiceWeight)
	}
	rep, err := s.rt.Engine().Service(r.Context(), limit)
	if err != nil {
		writeError(w, engineStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleFootprint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	origin := r.URL.Query().Get("origin")
	fp, err := s.rt.Engine().FootprintOf(origin)
	if err != nil {
		writeError(w, engineStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, fp)
}

func (s *Server) handleOverweightList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	entries, err := s.rt.Engine().ListOverweight(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []mq.OverweightEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type overweightExecReq struct {
	Handle string `json:"handle"`
	Weight uint64 `json:"weight"`
}

func (s *Server) handleOverweightExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req overweightExecReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit := weight.Weight(req.Weight)
	if limit == 0 {
		limit = weight.Weight(s.rt.Config().Queue.ServiceWeight)
	}
	used, err := s.rt.Engine().ExecuteOverweight(r.Context(), req.Handle, limit)
	if err != nil {
		writeError(w, engineStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"handle": req.Handle, "weight_used": used})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var from uint64
	if v := r.URL.Query().Get("from"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			from = n
		}
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	entries, err := s.rt.Journal().Read(from, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":  entries,
		"last_seq": s.rt.Journal().LastSeq(),
	})
}

type eventsTrimReq struct {
	Before uint64 `json:"before"`
}

func (s *Server) handleEventsTrim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req eventsTrimReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	removed, err := s.rt.Journal().TrimBefore(r.Context(), req.Before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

type overweightDiscardReq struct {
	Handle string `json:"handle"`
}

func (s *Server) handleOverweightDiscard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req overweightDiscardReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rt.Engine().DiscardOverweight(req.Handle); err != nil {
		writeError(w, engineStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
