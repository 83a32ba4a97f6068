// Package transport is the request transport contracts collaborator: it
// serves the five wire endpoints the cluster core requires (spec §4.3) plus
// a small read-only operator surface, and shares an outbound Client that
// discovery, heartbeat, and election use to talk to peers. It owns HTTP
// mechanics only — no membership or election semantics live here.
package transport

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"

	"github.com/gorilla/mux"

	"clusterd/internal/membership"
	"clusterd/internal/peer"
)

// Greeting is the exact body spec §4.3 requires GET / to answer with, and
// is also the string discovery matches on when probing the search list.
const Greeting = "Netzwerkprogrammierung2020"

const greeting = Greeting

// StatusSnapshot is the read-only view exposed at GET /api/status.
type StatusSnapshot struct {
	Self   peer.Peer   `json:"self"`
	Master *peer.Peer  `json:"master"`
	Peers  []peer.Peer `json:"peers"`
}

// TransitionRecord is one row of the audit trail, exposed at GET /api/transitions.
type TransitionRecord struct {
	Timestamp   int64  `json:"timestamp"`
	OldMasterID string `json:"old_master_id"`
	NewMasterID string `json:"new_master_id"`
}

// Cluster is the narrow surface transport needs from the node core. It
// takes and returns only primitive/leaf types (never election's VoteMessage)
// to keep transport free of an import cycle with the election package.
type Cluster interface {
	Self() peer.Peer
	HasMaster() bool
	IsSelfMaster() bool
	AddPeer(p peer.Peer) membership.AddResult
	DispatchVote(counts map[string]int, starter, oldMaster string) error
	ReceiveNewMaster(p peer.Peer)
	Status() StatusSnapshot
	Transitions(limit int) []TransitionRecord
}

// Server wires Cluster into an HTTP router and owns its lifecycle.
type Server struct {
	cluster Cluster
	http    *http.Server
	events  WebSocketUpgrader
}

// WebSocketUpgrader is implemented by internal/events.Hub; kept as an
// interface here so transport does not need to import gorilla/websocket
// directly or know about event payloads.
type WebSocketUpgrader interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// NewServer builds a Server bound to addr, serving cluster's contracts.
// events may be nil if live event streaming is disabled.
func NewServer(addr string, cluster Cluster, events WebSocketUpgrader) *Server {
	s := &Server{cluster: cluster, events: events}
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleRoot).Methods("GET")
	r.HandleFunc("/heartbeat", s.handleHeartbeat).Methods("GET")
	r.HandleFunc("/new_node", s.handleNewNode).Methods("POST")
	r.HandleFunc("/vote", s.handleVote).Methods("POST")
	r.HandleFunc("/new_master", s.handleNewMaster).Methods("POST")

	r.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/api/transitions", s.handleTransitions).Methods("GET")
	if events != nil {
		r.HandleFunc("/api/events", events.ServeWS).Methods("GET")
	}

	s.http = &http.Server{Addr: addr, Handler: r}
	return s
}

// Listen binds the server's address without accepting connections yet. The
// caller is expected to run Serve on the returned listener in its own
// goroutine, so the socket is already accepting (and answering the wire
// contracts, including 503 while this node is mid-join) before
// discovery/join runs on this node, mirroring the original's
// server_thread.start() preceding host.start().
func (s *Server) Listen() (net.Listener, error) {
	return net.Listen("tcp", s.http.Addr)
}

// Serve accepts connections on ln until Shutdown is called, or an error
// other than http.ErrServerClosed occurs.
func (s *Server) Serve(ln net.Listener) error {
	log.Printf("transport: HTTP server listening on %s", ln.Addr())
	return s.http.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Printf("transport: HTTP server stopping")
	return s.http.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writePlain(w, http.StatusOK, greeting)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	writePlain(w, http.StatusOK, "pong")
}

func (s *Server) handleNewNode(w http.ResponseWriter, r *http.Request) {
	if !s.cluster.HasMaster() {
		writePlain(w, http.StatusServiceUnavailable, "Service temporarily unavailable.")
		return
	}

	var body struct {
		ID   string `json:"id"`
		Host string `json:"host"`
		Port int    `json:"port"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writePlain(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p := peer.New(body.Host, body.Port)
	if s.cluster.AddPeer(p) == membership.Duplicate {
		writePlain(w, http.StatusServiceUnavailable, "Duplicate ID detected.")
		return
	}

	if s.cluster.IsSelfMaster() {
		writePlain(w, http.StatusOK, "master")
	} else {
		writePlain(w, http.StatusOK, "not master")
	}
}

// handleVote decodes the vote map, then dispatches processing on a
// separate goroutine and replies 200 immediately — spec §4.3/§5 require
// this so the ring does not deadlock waiting for the next hop's response.
func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var raw map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writePlain(w, http.StatusBadRequest, "invalid vote payload")
		return
	}

	starter, _ := raw["starter"].(string)
	oldMaster, _ := raw["old_master"].(string)
	counts := make(map[string]int, len(raw))
	for k, v := range raw {
		if k == "starter" || k == "old_master" {
			continue
		}
		if f, ok := v.(float64); ok {
			counts[k] = int(f)
		}
	}

	writePlain(w, http.StatusOK, "")
	go func() {
		if err := s.cluster.DispatchVote(counts, starter, oldMaster); err != nil {
			log.Printf("transport: vote dispatch failed: %v", err)
		}
	}()
}

func (s *Server) handleNewMaster(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID   string `json:"id"`
		Host string `json:"host"`
		Port int    `json:"port"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writePlain(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p := peer.New(body.Host, body.Port)
	s.cluster.ReceiveNewMaster(p)
	writePlain(w, http.StatusOK, "")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.cluster.Status())
}

func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.cluster.Transitions(100))
}

func writePlain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// respondJSON mirrors the teacher's handlers.respondJSON helper.
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
