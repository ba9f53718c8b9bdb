// Package api exposes the queue over HTTP and WebSocket: submit and
// cancel tasks, inspect queue state, long-poll for work, and stream
// live stage counts to a dashboard.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ridgeci/ridgeline/observability"
	"github.com/ridgeci/ridgeline/queue"
)

// Server wires the HTTP/WebSocket surface onto a BuildQueue.
type Server struct {
	q        *queue.BuildQueue
	resolver queue.TaskResolver
	hub      *Hub
	signer   *TokenSigner
}

// NewServer builds a Server. signer may be nil to disable bearer-token
// enforcement (e.g. in tests).
func NewServer(q *queue.BuildQueue, resolver queue.TaskResolver, signer *TokenSigner) *Server {
	return &Server{q: q, resolver: resolver, hub: NewHub(q), signer: signer}
}

// Hub returns the WebSocket broadcaster, so callers can start its Run
// loop alongside the HTTP server.
func (s *Server) Hub() *Hub { return s.hub }

// Routes builds the request multiplexer.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /queue/schedule", s.handleSchedule)
	mux.HandleFunc("DELETE /queue/cancel", s.handleCancel)
	mux.HandleFunc("GET /queue/items", s.handleItems)
	mux.HandleFunc("GET /queue/items/{id}", s.handleItem)
	mux.HandleFunc("POST /executor/pop", s.handlePop)
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /ws/queue", s.hub.handleWS)

	if s.signer == nil {
		return mux
	}
	return requireBearer(s.signer, mux)
}

type scheduleRequest struct {
	TaskName      string `json:"taskName"`
	QuietPeriodMS int64  `json:"quietPeriodMs"`
}

type itemView struct {
	ID           queue.ItemID `json:"id"`
	TaskName     string       `json:"taskName"`
	Stage        string       `json:"stage"`
	InQueueSince time.Time    `json:"inQueueSince"`
}

func toItemView(it queue.Item) itemView {
	return itemView{
		ID:           it.ID(),
		TaskName:     it.Task().FullDisplayName(),
		Stage:        it.Stage().String(),
		InQueueSince: it.InQueueSince(),
	}
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	task, ok := s.resolver.ResolveTask(req.TaskName)
	if !ok {
		http.Error(w, "unknown task: "+req.TaskName, http.StatusNotFound)
		return
	}

	w2 := s.q.Schedule(task, time.Duration(req.QuietPeriodMS)*time.Millisecond)
	if w2 == nil {
		observability.AdmissionDecisions.WithLabelValues("vetoed_or_coalesced").Inc()
		w.WriteHeader(http.StatusAccepted)
		return
	}
	observability.AdmissionDecisions.WithLabelValues("admitted").Inc()
	writeJSON(w, http.StatusCreated, toItemView(w2))
}

type cancelRequest struct {
	TaskName string       `json:"taskName,omitempty"`
	ItemID   queue.ItemID `json:"itemId,omitempty"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	var ok bool
	if req.ItemID != 0 {
		if item, found := s.q.ItemByID(req.ItemID); found {
			ok = s.q.CancelItem(item)
		}
	} else if req.TaskName != "" {
		if task, found := s.resolver.ResolveTask(req.TaskName); found {
			ok = s.q.Cancel(task)
		}
	}

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	items := s.q.ApproximateItems()
	views := make([]itemView, 0, len(items))
	for _, it := range items {
		views = append(views, toItemView(it))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		http.Error(w, "bad item id", http.StatusBadRequest)
		return
	}
	item, ok := s.q.ItemByID(queue.ItemID(id))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toItemView(item))
}

type popRequest struct {
	NodeID       string `json:"nodeId"`
	NumExecutors int    `json:"numExecutors"`
	TimeoutMS    int64  `json:"timeoutMs"`
}

type popResponse struct {
	ItemID  queue.ItemID `json:"itemId"`
	Main    bool         `json:"main"`
	TimedOut bool        `json:"timedOut"`
}

func (s *Server) handlePop(w http.ResponseWriter, r *http.Request) {
	var req popRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	exec := newHTTPExecutor(req.NodeID, req.NumExecutors)
	wu, err := s.q.Pop(ctx, exec)
	if err != nil {
		writeJSON(w, http.StatusOK, popResponse{TimedOut: true})
		return
	}
	writeJSON(w, http.StatusOK, popResponse{ItemID: wu.ItemID, Main: wu.Main})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
