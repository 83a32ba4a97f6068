// Command clusterd runs one node of the master-election cluster: it
// discovers peers, establishes or joins the current master, then serves
// the cluster's HTTP contracts until told to stop.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"clusterd/internal/clustererr"
	"clusterd/internal/node"
	"clusterd/internal/peer"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	host := flag.String("host", "localhost", "Host this service listens on and advertises to peers.")
	port := flag.Int("port", 7500, "Port this service listens on.")
	searchList := flag.String("searchlist", "", "Comma-separated host:port list of peers to probe for cluster autodetection.")
	masterScript := flag.String("masterscript", "masterscript.sh", "Script invoked by the new master after a master change.")
	slaveScript := flag.String("slavescript", "slavescript.sh", "Script invoked by every non-master node after a master change.")
	auditDB := flag.String("db", "", "Path to the SQLite audit trail database. Empty disables auditing.")
	flag.Parse()

	n := node.New(node.Config{
		ListenHost:   *host,
		ListenPort:   *port,
		SearchList:   parseSearchList(*searchList),
		MasterScript: *masterScript,
		SlaveScript:  *slaveScript,
		AuditDBPath:  *auditDB,
	})

	// Bind and start accepting connections before running discovery/join,
	// mirroring the original's server_thread.start() preceding host.start():
	// a peer dialing this node while it is still joining must see a real
	// 503 (spec §4.4), not connection-refused.
	if err := n.Listen(); err != nil {
		log.Fatalf("address already in use, exiting: %v", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- n.Serve()
	}()

	if err := n.Start(); err != nil {
		if err == clustererr.ErrJoiningCluster {
			log.Fatalf("could not join cluster, exiting: %v", err)
		}
		log.Fatalf("startup failed: %v", err)
	}
	n.Run()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		log.Fatalf("server failed: %v", err)
	case <-stop:
		log.Println("terminating")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := n.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// parseSearchList parses "host1:port1,host2:port2" into peers, skipping
// malformed entries (spec §6), mirroring the original CLI's behavior.
func parseSearchList(raw string) []peer.Peer {
	var out []peer.Peer
	for _, candidate := range strings.Split(raw, ",") {
		parts := strings.SplitN(candidate, ":", 2)
		if len(parts) != 2 {
			continue
		}
		port, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		out = append(out, peer.New(parts[0], port))
	}
	return out
}
