// Package membership holds the local node's view of the cluster: the set
// of active peers, the current master, and the locking discipline that
// keeps the two consistent under concurrent heartbeat, election, and HTTP
// handler goroutines.
package membership

import (
	"sync"

	"clusterd/internal/peer"
)

// AddResult reports the outcome of AddPeer.
type AddResult int

const (
	Added AddResult = iota
	Duplicate
)

// masterKind tags what Master currently points at, so the zero value never
// aliases a real peer (Design Notes §9: master is a tagged variant, never a
// pointer into the peers container).
type masterKind int

const (
	masterNone masterKind = iota
	masterSelf
	masterPeer
)

// OnTransition is invoked synchronously, under the state's lock, every time
// SetMaster observes the master's id actually change. It is the hook the
// script executor (internal/scriptexec) and the audit/event packages attach
// to; it must not call back into State (sync.Mutex is not reentrant).
type OnTransition func(newMaster peer.Peer)

// State is one node's membership view: self, active peers, and master.
type State struct {
	mu sync.Mutex

	self   peer.Peer
	peers  map[string]peer.Peer
	kind   masterKind
	mastID string // valid only when kind == masterPeer

	onTransition OnTransition
}

// New creates membership state for self, with no peers and no master.
func New(self peer.Peer, onTransition OnTransition) *State {
	return &State{
		self:         self,
		peers:        make(map[string]peer.Peer),
		kind:         masterNone,
		onTransition: onTransition,
	}
}

// Self returns the local peer descriptor.
func (s *State) Self() peer.Peer {
	return s.self // immutable after construction, safe without the lock
}

// AddPeer inserts p if its id is not already known. Idempotent by id.
func (s *State) AddPeer(p peer.Peer) AddResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[p.ID]; ok {
		return Duplicate
	}
	s.peers[p.ID] = p
	return Added
}

// RemovePeer deletes the peer with the given id, if present.
func (s *State) RemovePeer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, id)
}

// Peers returns a snapshot copy of the currently known peers.
func (s *State) Peers() []peer.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]peer.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

// PeerCount returns the number of known peers.
func (s *State) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Peer returns the peer with the given id, if known.
func (s *State) Peer(id string) (peer.Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[id]
	return p, ok
}

// MarkAlive sets a peer's Active flag on a successful heartbeat.
func (s *State) MarkAlive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.peers[id]; ok {
		p.Active = true
		s.peers[id] = p
	}
}

// MarkMissed applies the two-strike rule for one failed heartbeat:
// the first miss only flips Active false; the second (peer already
// inactive) removes the peer and reports it as dead.
func (s *State) MarkMissed(id string) (dead bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[id]
	if !ok {
		return false
	}
	if p.Active {
		p.Active = false
		s.peers[id] = p
		return false
	}
	delete(s.peers, id)
	return true
}

// ClearMaster sets master to none directly, bypassing SetMaster's
// transition callback — used only while an election is in progress
// (spec §4.6 cast_vote step 1), matching the source's unconditional
// `self.master = None`.
func (s *State) ClearMaster() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kind = masterNone
	s.mastID = ""
}

// SetMaster implements the set_master operation (spec §4.2): self is
// accepted unconditionally, a peer is accepted only if it is currently
// known, and an unknown peer id is silently ignored. If the resulting
// master id differs from the prior one, the transition callback fires
// exactly once, synchronously, under the lock.
func (s *State) SetMaster(p peer.Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setMasterLocked(p)
}

func (s *State) setMasterLocked(p peer.Peer) {
	var newKind masterKind
	var newID string

	switch {
	case p.ID == s.self.ID:
		newKind, newID = masterSelf, s.self.ID
	default:
		if _, ok := s.peers[p.ID]; !ok {
			return // vote for unknown peer: silently ignored
		}
		newKind, newID = masterPeer, p.ID
	}

	prevID, hadMaster := s.masterIDLocked()
	if hadMaster && prevID == newID {
		return // no-op transition: invariant 6 forbids re-firing the script
	}

	s.kind = newKind
	s.mastID = newID

	if s.onTransition != nil {
		resolved, _ := s.masterLocked()
		s.onTransition(resolved)
	}
}

// Master returns the current master peer and whether one is set (false
// during the window between detecting master death and a new_master
// announcement).
func (s *State) Master() (peer.Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.masterLocked()
}

func (s *State) masterLocked() (peer.Peer, bool) {
	switch s.kind {
	case masterSelf:
		return s.self, true
	case masterPeer:
		p, ok := s.peers[s.mastID]
		return p, ok
	default:
		return peer.Peer{}, false
	}
}

// MasterID returns the current master's id, or "" if none is set.
func (s *State) MasterID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := s.masterIDLocked()
	return id
}

func (s *State) masterIDLocked() (id string, ok bool) {
	switch s.kind {
	case masterSelf:
		return s.self.ID, true
	case masterPeer:
		return s.mastID, true
	default:
		return "", false
	}
}

// HasMaster reports whether a master is currently set.
func (s *State) HasMaster() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.masterIDLocked()
	return ok
}
