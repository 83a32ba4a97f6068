package discovery

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"clusterd/internal/clustererr"
	"clusterd/internal/membership"
	"clusterd/internal/peer"
	"clusterd/internal/transport"
)

func newTestState(self peer.Peer) *membership.State {
	return membership.New(self, nil)
}

func TestStart_NoPeersFoundBecomesSoloMaster(t *testing.T) {
	self := peer.New("localhost", 9300)
	state := newTestState(self)
	d := New(state, transport.NewClient(), nil)

	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !state.HasMaster() {
		t.Fatal("expected solo node to become its own master")
	}
	m, _ := state.Master()
	if m.ID != self.ID {
		t.Fatalf("expected self as master, got %s", m.ID)
	}
}

func TestStart_SkipsCandidatesThatDoNotAnswerTheGreeting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not the right greeting"))
	}))
	defer srv.Close()
	port := srv.Listener.Addr().(*net.TCPAddr).Port

	self := peer.New("localhost", 9301)
	state := newTestState(self)
	d := New(state, transport.NewClient(), []peer.Peer{peer.New("127.0.0.1", port)})

	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if state.PeerCount() != 0 {
		t.Fatalf("expected the bad-greeting candidate to be skipped, got %d peers", state.PeerCount())
	}
	if !state.HasMaster() {
		t.Fatal("expected this node to still become solo master")
	}
}

func TestStart_JoinsClusterAndAdoptsReportedMaster(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(greeting))
	})
	mux.HandleFunc("/new_node", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("master"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	port := srv.Listener.Addr().(*net.TCPAddr).Port
	candidate := peer.New("127.0.0.1", port)

	self := peer.New("localhost", 9302)
	state := newTestState(self)
	d := New(state, transport.NewClient(), []peer.Peer{candidate})

	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if state.PeerCount() != 1 {
		t.Fatalf("expected the candidate to be added as a peer, got %d", state.PeerCount())
	}
	m, ok := state.Master()
	if !ok || m.ID != candidate.ID {
		t.Fatalf("expected the candidate to be adopted as master, got %+v ok=%v", m, ok)
	}
}

func TestStart_ReturnsErrorWhenPeerUnreachableDuringJoin(t *testing.T) {
	self := peer.New("localhost", 9303)
	unreachable := peer.New("127.0.0.1", 1)

	state := newTestState(self)
	state.AddPeer(unreachable) // force joinCluster's path without going through searchPeers
	d := New(state, transport.NewClient(), nil)

	if err := d.joinCluster(); err != clustererr.ErrJoiningCluster {
		t.Fatalf("expected ErrJoiningCluster, got %v", err)
	}
}
