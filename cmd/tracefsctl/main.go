// Binary tracefsctl configures one tracefs instance for a single ad hoc
// session and streams decoded events to stdout, per SPEC_FULL §12.4. It
// exists as a small, scriptable entry point for exercising the ftrace
// package outside of a full data-source host process; it is not the
// traced_probes IPC surface spec.md's Non-goals exclude.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"flag"

	log "github.com/golang/glog"

	"github.com/google/perfetto-ftrace/ftrace"
	"github.com/google/perfetto-ftrace/tracefs"
)

var (
	events       = flag.String("events", "sched/sched_switch,sched/sched_waking", "Comma separated list of group/name event selectors, or group/* for all events in a group.")
	categories   = flag.String("atrace_categories", "", "Comma separated list of atrace categories to expand into event selectors.")
	compactSched = flag.Bool("compact_sched", true, "Encode sched_switch/sched_waking in the columnar compact-sched format.")
	duration     = flag.Duration("duration", 5*time.Second, "How long to record before tearing down the session.")
	debugAddr    = flag.String("debug_addr", "", "If set, serve the read-only debug introspection surface on this address while recording.")
	instance     = flag.String("instance", "", "Optional instances/<name> to use instead of the root tracefs instance.")
)

func main() {
	flag.Parse()

	root, err := tracefs.DiscoverRoot()
	if err != nil {
		log.Exitf("discovering tracefs root: %v", err)
	}
	if *instance != "" {
		root = root + "instances/" + *instance + "/"
	}
	ctrl := tracefs.NewFS(root)

	table, err := ftrace.NewTable(ctrl)
	if err != nil {
		log.Exitf("building translation table: %v", err)
	}

	muxer := ftrace.NewConfigMuxer(ctrl, table, ftrace.NewAtraceUnion(ftrace.NewExecAtraceRunner("")), nil)
	if err := muxer.ResetCurrentTracer(); err != nil {
		log.Warningf("resetting current_tracer: %v", err)
	}

	if *debugAddr != "" {
		srv := ftrace.NewDebugServer()
		srv.Register(*instance, muxer)
		go func() {
			if err := http.ListenAndServe(*debugAddr, srv); err != nil {
				log.Warningf("debug server stopped: %v", err)
			}
		}()
	}

	cfg := &ftrace.Config{
		Events:           splitNonEmpty(*events),
		AtraceCategories: splitNonEmpty(*categories),
		CompactSched:     *compactSched,
	}

	const sessionID = 1
	ctx := context.Background()
	out, err := muxer.SetupConfig(ctx, sessionID, cfg)
	if err != nil {
		log.Exitf("setting up session: %v", err)
	}
	if !out.Diagnostics.Empty() {
		log.Warningf("session setup diagnostics: %+v", out.Diagnostics)
	}
	if err := muxer.ActivateConfig(sessionID); err != nil {
		log.Exitf("activating session: %v", err)
	}

	sink := &stdoutSink{}
	readers := map[int]*ftrace.Reader{}
	for _, cpu := range onlineCPUs() {
		r, err := ftrace.NewReader(ctrl, table, out, cpu, sink)
		if err != nil {
			log.Warningf("cpu %d: opening reader: %v", cpu, err)
			continue
		}
		readers[cpu] = r
	}

	deadline := time.Now().Add(*duration)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		for _, r := range readers {
			r.ReadAvailable()
			if r.PollAndMaybeFlush() {
				r.Flush()
			}
		}
		if time.Now().After(deadline) {
			break
		}
	}

	for cpu, r := range readers {
		r.Flush()
		if err := r.Close(); err != nil {
			log.Warningf("cpu %d: closing reader: %v", cpu, err)
		}
	}
	if err := muxer.RemoveConfig(ctx, sessionID); err != nil {
		log.Exitf("removing session: %v", err)
	}
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func onlineCPUs() []int {
	var offline []int
	if raw, err := os.ReadFile("/sys/devices/system/cpu/offline"); err == nil {
		if parsed, err := tracefs.ParseOfflineCPUs(string(raw)); err == nil {
			offline = parsed
		}
	}
	isOffline := make(map[int]bool, len(offline))
	for _, c := range offline {
		isOffline[c] = true
	}

	n := runtime.NumCPU()
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if !isOffline[i] {
			out = append(out, i)
		}
	}
	return out
}

// stdoutSink prints a one-line JSON summary of each bundle, for ad hoc
// inspection; it is not a production RecordSink.
type stdoutSink struct{}

func (s *stdoutSink) Publish(b *ftrace.Bundle) {
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(b)
}
