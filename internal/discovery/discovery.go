// Package discovery implements the startup protocol (spec §4.4): probe the
// configured search list, join every peer that answers, and establish the
// initial master.
package discovery

import (
	"log"

	"clusterd/internal/clustererr"
	"clusterd/internal/membership"
	"clusterd/internal/peer"
	"clusterd/internal/transport"
)

const greeting = "Netzwerkprogrammierung2020"

// Discoverer runs the one-shot startup sequence.
type Discoverer struct {
	state      *membership.State
	client     *transport.Client
	searchList []peer.Peer
}

// New builds a Discoverer over the given search list.
func New(state *membership.State, client *transport.Client, searchList []peer.Peer) *Discoverer {
	return &Discoverer{state: state, client: client, searchList: searchList}
}

// Start runs discovery, alone-check, and join, in that order, and returns
// clustererr.ErrJoiningCluster if the cluster cannot be joined consistently.
// On success, the membership state's master is established; the initial
// script execution has already fired through the state's transition
// callback, so the caller does not fire it again.
func (d *Discoverer) Start() error {
	found := d.searchPeers()
	for _, p := range found {
		d.state.AddPeer(p)
	}

	if d.state.PeerCount() == 0 {
		log.Printf("discovery: no peers found, this node is alone")
		d.state.SetMaster(d.state.Self())
		return nil
	}

	return d.joinCluster()
}

// searchPeers probes every candidate in the search list with GET / and
// keeps the ones that answer 200 with the exact greeting body. Network
// errors are silently skipped (spec §4.4 step 1).
func (d *Discoverer) searchPeers() []peer.Peer {
	var found []peer.Peer
	for _, candidate := range d.searchList {
		status, body, err := d.client.Get(candidate.URL() + "/")
		if err != nil {
			continue
		}
		if status == 200 && body == greeting {
			found = append(found, candidate)
			log.Printf("discovery: found peer %s", candidate)
		}
	}
	return found
}

// joinCluster POSTs /new_node to every discovered peer and records the
// current master from whichever peer claims it (spec §4.4 step 3-4).
func (d *Discoverer) joinCluster() error {
	self := d.state.Self()
	for _, p := range d.state.Peers() {
		status, body, err := d.client.PostJSON(p.URL()+"/new_node", self)
		if err != nil {
			return clustererr.ErrJoiningCluster
		}
		if status != 200 {
			return clustererr.ErrJoiningCluster
		}
		if body == "master" {
			log.Printf("discovery: found current master %s", p)
			d.state.SetMaster(p)
		}
	}

	if !d.state.HasMaster() {
		return clustererr.ErrJoiningCluster
	}
	return nil
}
