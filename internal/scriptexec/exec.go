// Package scriptexec launches the external master/slave reconfiguration
// scripts on a master transition. It is grounded on the teacher daemon's
// internal/cmdutil launcher, extended with a detached launch mode: spec §4.7
// requires fire-and-forget semantics (start the process, never wait for it,
// never observe its exit status) rather than cmdutil's timeout-bounded,
// output-capturing Run.
package scriptexec

import (
	"bytes"
	"log"
	"os/exec"
	"path/filepath"
	"strings"
)

// Executor runs the configured master/slave scripts on transition.
type Executor struct {
	masterScript string
	slaveScript  string
}

// New builds an Executor for the given script paths.
func New(masterScript, slaveScript string) *Executor {
	return &Executor{masterScript: masterScript, slaveScript: slaveScript}
}

// Launch starts the master script if isMaster is true, else the slave
// script, and returns immediately without waiting for it to finish.
func (e *Executor) Launch(isMaster bool) {
	path := e.slaveScript
	kind := "slave"
	if isMaster {
		path = e.masterScript
		kind = "master"
	}
	if path == "" {
		log.Printf("scriptexec: no %s script configured, skipping", kind)
		return
	}
	log.Printf("script: launching %s script %s", kind, path)
	if err := RunDetached(relativize(path)); err != nil {
		log.Printf("script: failed to launch %s script %s: %v", kind, path, err)
	}
}

// relativize applies the source's `"./" + script` convention to a bare
// script name, leaving already-qualified paths (absolute, or already
// ./-prefixed) untouched.
func relativize(path string) string {
	if filepath.IsAbs(path) || strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") {
		return path
	}
	return "./" + path
}

// RunDetached starts name (with no arguments, matching the source's
// `subprocess.Popen("./" + script)`) and returns as soon as the process has
// started. A background goroutine reaps the child once it exits so it never
// becomes a zombie; nothing on the caller's path waits for that goroutine,
// and its exit status is only logged, never returned to the caller. The child's
// stdout/stderr are piped through the daemon's own log, line by line,
// rather than inherited as raw file descriptors.
func RunDetached(name string) error {
	stdout := &logLineWriter{prefix: "script: " + name + ": "}
	stderr := &logLineWriter{prefix: "script: " + name + ": "}

	cmd := exec.Command(name)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		err := cmd.Wait()
		stdout.flush()
		stderr.flush()
		if err != nil {
			log.Printf("script: %s exited with error: %v", name, err)
		}
	}()
	return nil
}

// logLineWriter buffers written bytes and forwards each complete line to
// log.Printf, prefixed, so a launched script's output interleaves with the
// daemon's own log lines instead of going straight to its raw file
// descriptors.
type logLineWriter struct {
	prefix string
	buf    []byte
}

func (w *logLineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		log.Printf("%s%s", w.prefix, w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// flush logs any trailing partial line left without a terminating newline,
// called once the process has exited and no more writes will arrive.
func (w *logLineWriter) flush() {
	if len(w.buf) == 0 {
		return
	}
	log.Printf("%s%s", w.prefix, w.buf)
	w.buf = nil
}
