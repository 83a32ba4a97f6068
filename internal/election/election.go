// Package election implements the ring vote (spec §4.6): a Chang–Roberts
// style token traversal over peers sorted by id, used to pick a new master
// after the heartbeat monitor observes the current one has died.
package election

import (
	"bytes"
	"encoding/json"
	"log"
	"sort"

	"github.com/google/uuid"

	"clusterd/internal/clustererr"
	"clusterd/internal/membership"
	"clusterd/internal/peer"
	"clusterd/internal/transport"
)

// reserved wire keys that are not participant ids (spec §4.6).
const (
	keyStarter   = "starter"
	keyOldMaster = "old_master"
)

// VoteMessage is the wire vote map of spec §4.6: a vote count per
// participant id, plus the two reserved keys. On the wire it is one flat
// JSON object — {"<peer-id>": <count>, ..., "starter": "...", "old_master":
// "..."} — never a nested struct, so it carries its own MarshalJSON and
// UnmarshalJSON rather than relying on its Go field names.
type VoteMessage struct {
	Counts    map[string]int
	Starter   string
	OldMaster string
}

// MarshalJSON flattens Counts and the two reserved keys into one object.
func (m VoteMessage) MarshalJSON() ([]byte, error) {
	flat := make(map[string]interface{}, len(m.Counts)+2)
	for id, count := range m.Counts {
		flat[id] = count
	}
	flat[keyStarter] = m.Starter
	flat[keyOldMaster] = m.OldMaster
	return json.Marshal(flat)
}

// UnmarshalJSON reverses MarshalJSON: every key except the two reserved
// ones is a participant id/count pair.
func (m *VoteMessage) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var flat map[string]interface{}
	if err := dec.Decode(&flat); err != nil {
		return err
	}

	counts := make(map[string]int, len(flat))
	var starter, oldMaster string
	for key, val := range flat {
		switch key {
		case keyStarter:
			s, _ := val.(string)
			starter = s
		case keyOldMaster:
			s, _ := val.(string)
			oldMaster = s
		default:
			n, ok := val.(json.Number)
			if !ok {
				continue
			}
			i, err := n.Int64()
			if err != nil {
				return err
			}
			counts[key] = int(i)
		}
	}

	m.Counts = counts
	m.Starter = starter
	m.OldMaster = oldMaster
	return nil
}

// Engine runs the ring vote on whichever goroutine enters it — the
// heartbeat monitor (to start a round) or a transport handler goroutine
// (to process an inbound /vote). It holds no goroutine of its own.
type Engine struct {
	state  *membership.State
	client *transport.Client
}

// New builds an Engine over state, using client for outbound /vote and
// /new_master requests.
func New(state *membership.State, client *transport.Client) *Engine {
	return &Engine{state: state, client: client}
}

// StartVote is the initiator's entry point (spec §4.6 start_vote): snapshot
// peers, build the zeroed vote map, and cast the first vote. Returns
// clustererr.ErrVoting if neither the next hop nor the starter fallback
// (itself, on this the first hop) accepted the vote.
func (e *Engine) StartVote() error {
	self := e.state.Self()
	peers := e.state.Peers()

	counts := make(map[string]int, len(peers)+1)
	for _, p := range peers {
		counts[p.ID] = 0
	}
	counts[self.ID] = 0

	oldMasterID := e.state.MasterID()
	round := uuid.New().String()
	log.Printf("election[%s]: starting vote, old_master=%s", round, oldMasterID)

	return e.castVote(round, VoteMessage{
		Counts:    counts,
		Starter:   self.ID,
		OldMaster: oldMasterID,
	})
}

// Vote is the inbound handler for /vote (spec §4.6 vote). If this node is
// the starter receiving the completed token, it tallies and announces;
// otherwise it forwards the vote one more hop, returning
// clustererr.ErrVoting if that hop is undeliverable and the starter
// fallback also fails.
func (e *Engine) Vote(counts map[string]int, starter, oldMaster string) error {
	self := e.state.Self()
	round := uuid.New().String()

	if starter == self.ID {
		e.finish(round, counts)
		return nil
	}

	return e.castVote(round, VoteMessage{Counts: counts, Starter: starter, OldMaster: oldMaster})
}

// finish is reached only by the starter, once the token has completed one
// full traversal: pick the winner, become or recognize the new master
// locally, then broadcast /new_master to every peer.
func (e *Engine) finish(round string, counts map[string]int) {
	winnerID := highestVoteID(counts)
	if winnerID == "" {
		log.Printf("election[%s]: empty vote tally, aborting", round)
		return
	}

	self := e.state.Self()
	var winner peer.Peer
	switch {
	case winnerID == self.ID:
		winner = self
	default:
		p, ok := e.state.Peer(winnerID)
		if !ok {
			log.Printf("election[%s]: winning id %s is not a known peer, aborting", round, winnerID)
			return
		}
		winner = p
	}

	log.Printf("election[%s]: new master is %s", round, winner)
	e.updateMaster(winner)

	for _, p := range e.state.Peers() {
		status, _, err := e.client.PostJSON(p.URL()+"/new_master", winner)
		if err != nil || status != 200 {
			log.Printf("election[%s]: %s did not accept new_master announcement: %v", round, p, err)
		}
	}
}

// highestVoteID picks the id with the highest tally. Ties are broken by
// lexicographically largest id (spec §9's recommended resolution — the
// source leaves this to indeterminate map iteration order).
func highestVoteID(counts map[string]int) string {
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids) // ascending; we scan for max count, tie-break on largest id

	best := ""
	bestCount := -1
	for _, id := range ids {
		c := counts[id]
		if c > bestCount || (c == bestCount && id > best) {
			best = id
			bestCount = c
		}
	}
	return best
}

// castVote is one ring hop (spec §4.6 cast_vote): halt new_node admission,
// drop the old master, vote for the highest-id survivor, and forward. If
// the next hop rejects the vote, it falls back to the starter; if that also
// fails, the round is abandoned and clustererr.ErrVoting is returned (spec
// §7 VotingError).
func (e *Engine) castVote(round string, msg VoteMessage) error {
	self := e.state.Self()

	e.state.ClearMaster()
	e.state.RemovePeer(msg.OldMaster)

	starter, starterKnown := e.resolveStarter(msg.Starter)

	participants := append(e.state.Peers(), self)
	sorted := sortDescending(participants)
	next := nextHop(self.ID, sorted)

	msg.Counts[sorted[0].ID]++

	log.Printf("election[%s]: casting vote to %s", round, next)
	status, _, err := e.client.PostJSON(next.URL()+"/vote", msg)
	if err == nil && status == 200 {
		return nil
	}

	log.Printf("election[%s]: %s did not accept vote, falling back to starter", round, next)
	if !starterKnown {
		log.Printf("election[%s]: starter unknown, vote abandoned", round)
		return clustererr.ErrVoting
	}
	if status, _, err := e.client.PostJSON(starter.URL()+"/vote", msg); err != nil || status != 200 {
		log.Printf("election[%s]: starter %s also rejected the vote, giving up", round, starter)
		return clustererr.ErrVoting
	}
	return nil
}

func (e *Engine) resolveStarter(starterID string) (peer.Peer, bool) {
	self := e.state.Self()
	if starterID == self.ID {
		return self, true
	}
	return e.state.Peer(starterID)
}

// updateMaster implements spec §4.6 update_master: set_master plus the
// script executor invocation, which membership.State already wires through
// its transition callback.
func (e *Engine) updateMaster(p peer.Peer) {
	e.state.SetMaster(p)
}

// Announce handles an inbound /new_master (spec §4.3): it is exactly
// update_master, with no broadcast — the starter already broadcast to
// everyone, this node is just one of the recipients.
func (e *Engine) Announce(p peer.Peer) {
	e.updateMaster(p)
}

// sortDescending returns participants sorted by id, descending.
func sortDescending(participants []peer.Peer) []peer.Peer {
	out := make([]peer.Peer, len(participants))
	copy(out, participants)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// nextHop returns the first participant (in descending-sorted order) whose
// id is strictly less than selfID, wrapping to the highest-id participant
// if selfID is already the lowest (spec §4.6 ring order).
func nextHop(selfID string, sorted []peer.Peer) peer.Peer {
	for _, p := range sorted {
		if p.ID < selfID {
			return p
		}
	}
	return sorted[0]
}
