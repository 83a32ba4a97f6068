// Package clustererr defines the sentinel errors used across the cluster
// coordination core, replacing the exception-for-control-flow style of the
// program this daemon is modeled on with explicit sentinel error values.
package clustererr

import "errors"

// ErrJoiningCluster is returned when startup discovery/join fails in a way
// that makes the local node's cluster membership inconsistent. It is fatal:
// the caller should abort the process.
var ErrJoiningCluster = errors.New("joining cluster failed")

// ErrVoting is returned when a hop in the ring vote could not be delivered
// to the next peer. Recovered by falling back to the vote starter; only
// logged (never fatal) if the fallback also fails.
var ErrVoting = errors.New("voting request rejected or undeliverable")
