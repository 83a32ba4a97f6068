package heartbeat

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"clusterd/internal/membership"
	"clusterd/internal/peer"
	"clusterd/internal/transport"
)

type fakeElector struct {
	started bool
}

func (f *fakeElector) StartVote() error { f.started = true; return nil }

func newTestState(self peer.Peer) *membership.State {
	return membership.New(self, nil)
}

func TestProbe_RespondingPeerIsMarkedAlive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	port := srv.Listener.Addr().(*net.TCPAddr).Port
	p := peer.New("127.0.0.1", port)
	p.Active = false

	self := peer.New("localhost", 9200)
	state := newTestState(self)
	state.AddPeer(p)

	m := New(state, transport.NewClient(), &fakeElector{})
	m.probe(p)

	got, _ := state.Peer(p.ID)
	if !got.Active {
		t.Fatal("expected peer to be marked active after a successful probe")
	}
}

func TestProbe_FirstMissFlagsInactiveButKeepsPeer(t *testing.T) {
	self := peer.New("localhost", 9201)
	dead := peer.New("127.0.0.1", 1) // nothing listens here
	state := newTestState(self)
	state.AddPeer(dead)

	m := New(state, transport.NewClient(), &fakeElector{})
	m.probe(dead)

	got, ok := state.Peer(dead.ID)
	if !ok {
		t.Fatal("expected peer to survive the first missed heartbeat")
	}
	if got.Active {
		t.Fatal("expected peer to be flagged inactive after the first miss")
	}
}

func TestProbe_SecondMissRemovesPeerAndHandlesMasterDeath(t *testing.T) {
	self := peer.New("localhost", 9202)
	dead := peer.New("127.0.0.1", 1)
	dead.Active = false

	state := newTestState(self)
	state.AddPeer(dead)
	state.SetMaster(dead)

	elector := &fakeElector{}
	m := New(state, transport.NewClient(), elector)
	m.probe(dead)

	if _, ok := state.Peer(dead.ID); ok {
		t.Fatal("expected the peer to be removed after its second missed heartbeat")
	}
	if !state.HasMaster() {
		t.Fatal("expected the lone survivor to become its own master")
	}
	m2, _ := state.Master()
	if m2.ID != self.ID {
		t.Fatalf("expected self to become master with no peers left, got %s", m2.ID)
	}
	if elector.started {
		t.Fatal("StartVote should not be called when there are no surviving peers")
	}
}

func TestOnPeerDeath_HighestIDSurvivorStartsVote(t *testing.T) {
	// Construct two peers whose ids we can order deterministically via
	// the struct literal rather than relying on hash comparisons.
	self := peer.Peer{ID: "zzz", Host: "self", Port: 1}
	survivor := peer.Peer{ID: "aaa", Host: "survivor", Port: 2}
	dyingMaster := peer.Peer{ID: "mmm", Host: "master", Port: 3}

	state := newTestState(self)
	state.AddPeer(survivor)
	state.AddPeer(dyingMaster)
	state.SetMaster(dyingMaster)
	state.RemovePeer(dyingMaster.ID) // simulate the two-strike removal that precedes onPeerDeath

	elector := &fakeElector{}
	m := New(state, transport.NewClient(), elector)
	m.onPeerDeath(dyingMaster)

	if !elector.started {
		t.Fatal("expected the highest-id survivor (self) to start a vote")
	}
}

func TestOnPeerDeath_LowerIDSurvivorWaits(t *testing.T) {
	self := peer.Peer{ID: "aaa", Host: "self", Port: 1}
	higher := peer.Peer{ID: "zzz", Host: "higher", Port: 2}
	dyingMaster := peer.Peer{ID: "mmm", Host: "master", Port: 3}

	state := newTestState(self)
	state.AddPeer(higher)
	state.AddPeer(dyingMaster)
	state.SetMaster(dyingMaster)
	state.RemovePeer(dyingMaster.ID)

	elector := &fakeElector{}
	m := New(state, transport.NewClient(), elector)
	m.onPeerDeath(dyingMaster)

	if elector.started {
		t.Fatal("expected a lower-id survivor to wait rather than start a vote")
	}
}
