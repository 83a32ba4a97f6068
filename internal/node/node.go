// Package node wires the cluster-membership and master-election
// collaborators into the single per-process instance each node runs
// (Design Notes §9: the "singleton" is this object, dependency-injected
// into the transport handlers rather than held as package-level state).
package node

import (
	"context"
	"log"
	"net"

	"clusterd/internal/audit"
	"clusterd/internal/clustererr"
	"clusterd/internal/discovery"
	"clusterd/internal/election"
	"clusterd/internal/events"
	"clusterd/internal/heartbeat"
	"clusterd/internal/membership"
	"clusterd/internal/peer"
	"clusterd/internal/scriptexec"
	"clusterd/internal/transport"
)

// Config carries everything needed to build a Node, mirroring the startup
// configuration in spec §6.
type Config struct {
	ListenHost   string
	ListenPort   int
	SearchList   []peer.Peer
	MasterScript string
	SlaveScript  string
	AuditDBPath  string // "" disables the audit trail
}

// Node is one process's view of, and participation in, the cluster.
type Node struct {
	self  peer.Peer
	state *membership.State

	client    *transport.Client
	discovery *discovery.Discoverer
	heartbeat *heartbeat.Monitor
	election  *election.Engine
	script    *scriptexec.Executor
	audit     *audit.Trail
	events    *events.Hub
	server    *transport.Server
	listener  net.Listener

	eventsStop   chan struct{}
	lastMasterID string // last id seen by onTransition; used only for audit rows
}

// New builds a Node from cfg but does not start anything yet.
func New(cfg Config) *Node {
	self := peer.New(cfg.ListenHost, cfg.ListenPort)
	script := scriptexec.New(cfg.MasterScript, cfg.SlaveScript)
	hub := events.NewHub()

	var trail *audit.Trail
	if cfg.AuditDBPath != "" {
		t, err := audit.Open(cfg.AuditDBPath)
		if err != nil {
			log.Printf("node: audit trail disabled, could not open %s: %v", cfg.AuditDBPath, err)
		} else {
			trail = t
		}
	}

	n := &Node{self: self, client: transport.NewClient(), script: script, audit: trail, events: hub}

	n.state = membership.New(self, n.onTransition)
	n.discovery = discovery.New(n.state, n.client, cfg.SearchList)
	n.election = election.New(n.state, n.client)
	n.heartbeat = heartbeat.New(n.state, n.client, n.election)
	n.server = transport.NewServer(self.Addr(), n, hub)

	return n
}

// onTransition is membership.State's OnTransition hook: invoked exactly
// once per observed change of master.id (invariant 6), it fires the
// script executor and records the transition for audit/events. It runs
// under membership.State's lock, so calls are already serialized and
// lastMasterID needs no locking of its own.
func (n *Node) onTransition(newMaster peer.Peer) {
	isMaster := newMaster.ID == n.self.ID
	n.script.Launch(isMaster)

	n.audit.Record(n.lastMasterID, newMaster.ID)
	n.lastMasterID = newMaster.ID
	n.events.Broadcast(events.Event{Type: "master_changed", MasterID: newMaster.ID})
}

// Listen binds the HTTP listener without accepting connections yet. The
// caller must call this, then Serve in its own goroutine, before calling
// Start: the original (app.py: server_thread.start() before host.start())
// starts accepting connections before running discovery/join so that a
// concurrently-starting peer reaching this node mid-join gets a real 503
// response (spec §4.4) rather than connection-refused. Returns an error on
// bind failure (e.g. address already in use).
func (n *Node) Listen() error {
	ln, err := n.server.Listen()
	if err != nil {
		return err
	}
	n.listener = ln
	return nil
}

// Serve blocks accepting connections on the listener bound by Listen, until
// Shutdown is called or a fatal error occurs. Must be run in its own
// goroutine, started before Start.
func (n *Node) Serve() error {
	return n.server.Serve(n.listener)
}

// Start runs the one-shot startup protocol (discovery, alone-check, join).
// The HTTP listener must already be accepting (via Listen/Serve) before
// this is called. Establishing the master during discovery goes through
// state.SetMaster, which already invokes the script executor on the
// resulting transition (spec §4.4 step 5) — Start must not fire it again,
// or invariant 6's "exactly once per observed transition" would be
// violated.
func (n *Node) Start() error {
	if err := n.discovery.Start(); err != nil {
		return err
	}
	if !n.state.HasMaster() {
		return clustererr.ErrJoiningCluster
	}
	return nil
}

// Run starts the heartbeat ticker and the event hub's background loop.
// Call only after Start has succeeded; the HTTP server itself is already
// running via Listen/Serve by this point.
func (n *Node) Run() {
	n.eventsStop = make(chan struct{})
	go n.events.Run(n.eventsStop)
	go n.heartbeat.Run()
}

// Shutdown stops the heartbeat ticker, the event hub, and the HTTP server.
func (n *Node) Shutdown(ctx context.Context) error {
	n.heartbeat.Stop()
	if n.eventsStop != nil {
		close(n.eventsStop)
	}
	if n.audit != nil {
		n.audit.Close()
	}
	return n.server.Shutdown(ctx)
}

// --- transport.Cluster ---

func (n *Node) Self() peer.Peer { return n.self }

func (n *Node) HasMaster() bool { return n.state.HasMaster() }

func (n *Node) IsSelfMaster() bool {
	m, ok := n.state.Master()
	return ok && m.ID == n.self.ID
}

func (n *Node) AddPeer(p peer.Peer) membership.AddResult {
	result := n.state.AddPeer(p)
	if result == membership.Added {
		n.events.Broadcast(events.Event{Type: "peer_added", PeerID: p.ID})
	}
	return result
}

func (n *Node) DispatchVote(counts map[string]int, starter, oldMaster string) error {
	return n.election.Vote(counts, starter, oldMaster)
}

func (n *Node) ReceiveNewMaster(p peer.Peer) {
	n.election.Announce(p)
}

func (n *Node) Status() transport.StatusSnapshot {
	var masterPtr *peer.Peer
	if m, ok := n.state.Master(); ok {
		masterPtr = &m
	}
	return transport.StatusSnapshot{
		Self:   n.self,
		Master: masterPtr,
		Peers:  n.state.Peers(),
	}
}

func (n *Node) Transitions(limit int) []transport.TransitionRecord {
	return n.audit.Recent(limit)
}
