package ftrace

import (
	"context"
	"fmt"
	"os/exec"
	"sort"

	log "github.com/golang/glog"
)

// AtraceRunner invokes the external `atrace` userspace helper, per
// spec.md §4.2.1. Modeled as an interface so tests can inject a fake that
// never shells out, matching the Controller interface's "Dynamic dispatch"
// design note.
type AtraceRunner interface {
	Start(ctx context.Context, apps, categories []string, onlyUserspace bool) error
	Stop(ctx context.Context) error
	PreferSDK(ctx context.Context, categories []string) error
}

// execAtraceRunner shells out to the real `atrace` binary.
type execAtraceRunner struct {
	path string
}

// NewExecAtraceRunner constructs an AtraceRunner backed by the named
// executable (normally "atrace", resolved via $PATH).
func NewExecAtraceRunner(path string) AtraceRunner {
	if path == "" {
		path = "atrace"
	}
	return &execAtraceRunner{path: path}
}

func (r *execAtraceRunner) Start(ctx context.Context, apps, categories []string, onlyUserspace bool) error {
	args := []string{"--async_start"}
	if onlyUserspace {
		args = append(args, "--only_userspace")
	}
	for _, a := range apps {
		args = append(args, "-a", a)
	}
	args = append(args, categories...)
	return r.run(ctx, args)
}

func (r *execAtraceRunner) Stop(ctx context.Context) error {
	return r.run(ctx, []string{"--async_stop"})
}

func (r *execAtraceRunner) PreferSDK(ctx context.Context, categories []string) error {
	args := append([]string{"--prefer_sdk"}, categories...)
	return r.run(ctx, args)
}

func (r *execAtraceRunner) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, r.path, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("running %s %v: %w (output: %s)", r.path, args, err, out)
	}
	return nil
}

// AtraceUnion tracks the union of atrace apps/categories/prefer-sdk
// requests across all active+configured sessions in one instance, per
// spec.md §4.2.1, and re-runs the external helper only when the union
// changes.
type AtraceUnion struct {
	runner AtraceRunner

	byID map[uint64]atraceRequest

	lastApps       []string
	lastCategories []string
	lastPreferSDK  []string
}

type atraceRequest struct {
	apps              []string
	categories        []string
	preferSDK         []string
	optOutSDK         []string
}

// NewAtraceUnion constructs a union tracker using runner for side effects.
func NewAtraceUnion(runner AtraceRunner) *AtraceUnion {
	return &AtraceUnion{runner: runner, byID: map[uint64]atraceRequest{}}
}

// Update installs or removes sessionID's request and re-runs the atrace
// helper if the union changed. Failures are returned to the caller, which
// (per SPEC_FULL §13) records them in SetupDiagnostics rather than failing
// setup outright; the union state is updated only on success, per
// spec.md §4.2.1's last sentence.
func (u *AtraceUnion) Update(ctx context.Context, sessionID uint64, req *atraceRequest) error {
	if req == nil {
		delete(u.byID, sessionID)
	} else {
		u.byID[sessionID] = *req
	}

	apps, categories, preferSDK := u.computeUnion()

	if equalSets(apps, u.lastApps) && equalSets(categories, u.lastCategories) {
		if !equalSets(preferSDK, u.lastPreferSDK) {
			if err := u.runner.PreferSDK(ctx, preferSDK); err != nil {
				return fmt.Errorf("atrace --prefer_sdk: %w", err)
			}
			u.lastPreferSDK = preferSDK
		}
		return nil
	}

	var err error
	if len(apps) == 0 && len(categories) == 0 {
		err = u.runner.Stop(ctx)
	} else {
		err = u.runner.Start(ctx, apps, categories, true /* onlyUserspace */)
	}
	if err != nil {
		log.Warningf("atrace union update failed, leaving previous state in place: %v", err)
		return err
	}
	u.lastApps, u.lastCategories = apps, categories
	if !equalSets(preferSDK, u.lastPreferSDK) {
		if err := u.runner.PreferSDK(ctx, preferSDK); err != nil {
			return fmt.Errorf("atrace --prefer_sdk: %w", err)
		}
		u.lastPreferSDK = preferSDK
	}
	return nil
}

func (u *AtraceUnion) computeUnion() (apps, categories, preferSDK []string) {
	appSet, catSet := map[string]bool{}, map[string]bool{}
	preferSet, optOutSet := map[string]bool{}, map[string]bool{}
	for _, req := range u.byID {
		for _, a := range req.apps {
			appSet[a] = true
		}
		for _, c := range req.categories {
			catSet[c] = true
		}
		for _, c := range req.preferSDK {
			preferSet[c] = true
		}
		for _, c := range req.optOutSDK {
			optOutSet[c] = true
		}
	}
	// Opt-out wins, per spec.md §4.2.1.
	for c := range optOutSet {
		delete(preferSet, c)
	}
	return sortedKeys(appSet), sortedKeys(catSet), sortedKeys(preferSet)
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
