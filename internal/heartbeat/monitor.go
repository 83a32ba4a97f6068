// Package heartbeat implements the periodic two-strike liveness check
// (spec §4.5): once a second, ping every known peer, and when the current
// master is declared dead, either start a vote or wait for a higher-id
// peer to do so.
package heartbeat

import (
	"log"
	"sort"
	"time"

	"clusterd/internal/membership"
	"clusterd/internal/peer"
	"clusterd/internal/transport"
)

// Elector is the subset of the election engine the heartbeat monitor needs:
// it only ever starts a round, never participates in one directly.
type Elector interface {
	StartVote() error
}

// Monitor runs the heartbeat ticker.
type Monitor struct {
	state    *membership.State
	client   *transport.Client
	elector  Elector
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

// New builds a Monitor that ticks once a second, matching the source's
// `time.sleep(1)` heartbeat cadence.
func New(state *membership.State, client *transport.Client, elector Elector) *Monitor {
	return &Monitor{
		state:    state,
		client:   client,
		elector:  elector,
		interval: time.Second,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run blocks ticking until Stop is called. Intended to be launched in its
// own goroutine by the node wiring code.
func (m *Monitor) Run() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// Stop halts the ticker and waits for the in-flight tick, if any, to finish.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

// tick pings every known peer once, applying the two-strike rule to each.
func (m *Monitor) tick() {
	for _, p := range m.state.Peers() {
		m.probe(p)
	}
}

func (m *Monitor) probe(p peer.Peer) {
	status, body, err := m.client.Get(p.URL() + "/heartbeat")
	if err == nil && status == 200 && body == "pong" {
		m.state.MarkAlive(p.ID)
		return
	}

	dead := m.state.MarkMissed(p.ID)
	if !dead {
		log.Printf("heartbeat: %s missed first heartbeat", p)
		return
	}

	log.Printf("heartbeat: %s missed second heartbeat and is determined dead", p)
	m.onPeerDeath(p)
}

// onPeerDeath implements the master-death branch of spec §4.5: if the dead
// peer was master, either become the solo master (no survivors left) or
// defer to the highest-id survivor to start a vote.
func (m *Monitor) onPeerDeath(dead peer.Peer) {
	if dead.ID != m.state.MasterID() {
		return
	}

	log.Printf("heartbeat: master %s is dead", dead)
	survivors := m.state.Peers()
	if len(survivors) == 0 {
		log.Printf("heartbeat: no peers left, becoming solo master")
		m.state.SetMaster(m.state.Self())
		return
	}

	if m.isHighestID(survivors) {
		log.Printf("heartbeat: starting vote")
		if err := m.elector.StartVote(); err != nil {
			log.Printf("heartbeat: vote round failed to complete: %v", err)
		}
	} else {
		log.Printf("heartbeat: waiting to vote")
	}
}

// isHighestID reports whether self's id is strictly greater than every
// surviving peer's id — the deterministic rule that elects exactly one
// vote initiator (spec §4.5).
func (m *Monitor) isHighestID(survivors []peer.Peer) bool {
	self := m.state.Self()
	sorted := make([]peer.Peer, len(survivors))
	copy(sorted, survivors)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID > sorted[j].ID })
	return self.ID > sorted[0].ID
}
