package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"projectctl/internal/project"
	"projectctl/internal/registry"
	"projectctl/pkg/logging"
)

// captureLogs routes debug logging into a buffer for the rest of the test.
func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	logging.Init(logging.LevelDebug, logging.FormatText, buf)
	t.Cleanup(func() { logging.InitForCLI(logging.LevelWarn, os.Stderr) })
	return buf
}

// fakeLauncher tracks processes in memory. A process stays alive until it
// receives a signal it does not ignore.
type fakeLauncher struct {
	mu         sync.Mutex
	nextPID    int
	alive      map[int]bool
	launches   map[string]int
	signals    []syscall.Signal
	ignoreTerm bool
	failLaunch error
	exitAfter  map[string]bool // service exits right after launch
	onAlive    func(pid int)   // runs before every liveness check
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{nextPID: 1000, alive: map[int]bool{}, launches: map[string]int{}, exitAfter: map[string]bool{}}
}

func (f *fakeLauncher) Launch(ctx context.Context, spec LaunchSpec) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLaunch != nil {
		return 0, f.failLaunch
	}
	f.nextPID++
	f.launches[spec.Service]++
	f.alive[f.nextPID] = !f.exitAfter[spec.Service]
	return f.nextPID, nil
}

func (f *fakeLauncher) Alive(pid int) bool {
	if f.onAlive != nil {
		f.onAlive(pid)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

func (f *fakeLauncher) Signal(pid int, sig syscall.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	if sig == syscall.SIGTERM && f.ignoreTerm {
		return nil
	}
	delete(f.alive, pid)
	return nil
}

func (f *fakeLauncher) kill(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.alive, pid)
}

func (f *fakeLauncher) launchCount(service string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches[service]
}

func (f *fakeLauncher) sentSignals() []syscall.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]syscall.Signal(nil), f.signals...)
}

// fakeCompose keeps one container per service name.
type fakeCompose struct {
	mu         sync.Mutex
	containers map[string]ContainerStatus
	ups        map[string]int
	stops      map[string]int
	upErr      error
	logs       string
}

func newFakeCompose() *fakeCompose {
	return &fakeCompose{containers: map[string]ContainerStatus{}, ups: map[string]int{}, stops: map[string]int{}}
}

func (f *fakeCompose) Up(ctx context.Context, dir, file, service string, env []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upErr != nil {
		return f.upErr
	}
	f.ups[service]++
	f.containers[service] = ContainerStatus{ID: "c-" + service, Service: service, State: "running"}
	return nil
}

func (f *fakeCompose) Stop(ctx context.Context, dir, file, service string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops[service]++
	if c, ok := f.containers[service]; ok {
		c.State = "exited"
		f.containers[service] = c
	}
	return nil
}

func (f *fakeCompose) Ps(ctx context.Context, dir, file, service string) (ContainerStatus, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[service]
	return c, ok, nil
}

func (f *fakeCompose) Logs(ctx context.Context, dir, file, service string, tail int, follow bool, w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s tail=%d %s", service, tail, f.logs)
	return err
}

func (f *fakeCompose) upCount(service string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ups[service]
}

// fakeProber fails for the ports listed in down.
type fakeProber struct {
	mu   sync.Mutex
	down map[int]bool
}

func (f *fakeProber) ProbePort(ctx context.Context, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[port] {
		return fmt.Errorf("port %d not accepting connections", port)
	}
	return nil
}

func (f *fakeProber) setDown(port int, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down == nil {
		f.down = map[int]bool{}
	}
	f.down[port] = down
}

type harness struct {
	store    *registry.Store
	launcher *fakeLauncher
	compose  *fakeCompose
	prober   *fakeProber
	orch     *Orchestrator
	project  project.Project
}

func newHarness(t *testing.T, services ...project.ServiceSpec) *harness {
	t.Helper()
	dir := t.TempDir()
	store := registry.New(filepath.Join(dir, "projects.yaml"), filepath.Join(dir, "projects.lock"))

	p := project.Project{Name: "shop", Path: t.TempDir(), Type: project.TypeNode, Services: services}
	_, err := store.Commit(context.Background(), func(r *registry.Record) error { return r.AddProject(p) })
	require.NoError(t, err)

	h := &harness{
		store:    store,
		launcher: newFakeLauncher(),
		compose:  newFakeCompose(),
		prober:   &fakeProber{},
		project:  p,
	}
	h.orch = NewOrchestrator(store, h.compose, h.launcher, h.prober, Options{
		HealthTimeout:     200 * time.Millisecond,
		HealthInterval:    5 * time.Millisecond,
		MaxHealthInterval: 20 * time.Millisecond,
		StopGrace:         50 * time.Millisecond,
		LogPath:           func(p, s string) string { return filepath.Join(dir, "logs", p, s+".log") },
	})
	return h
}

func processService(name string, port int) project.ServiceSpec {
	return project.ServiceSpec{Name: name, Kind: project.KindProcess, Port: port, Command: "run " + name}
}

func containerService(name string, port int) project.ServiceSpec {
	return project.ServiceSpec{Name: name, Kind: project.KindContainer, Port: port, ComposeFile: "compose.yaml"}
}

func byService(res Result) map[string]ServiceResult {
	out := map[string]ServiceResult{}
	for _, s := range res.Services {
		out[s.Service] = s
	}
	return out
}
