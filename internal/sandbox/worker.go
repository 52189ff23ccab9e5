// Package sandbox implements the C5 Sandbox Runtime: isolated worker
// processes hosting untrusted plugin/tool code with a mediated host API.
//
// Grounded on internal/tools/sandbox/firecracker/vsock.go's
// VsockConnection: a correlation-id-keyed map of pending response channels,
// with ids always assigned by the host side, transplanted from a vsock
// transport to a subprocess/pipe transport (internal/tools/sandbox has no
// local microVM host to target). A Linux-only Firecracker-backed Runtime
// implementation lives in internal/sandbox/firecracker and is selected
// instead when available, mirroring internal/tools/sandbox.NewExecutor's
// own backend probe-and-fallback.
package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexora-run/taskorch/internal/domain"
)

// State is a worker's lifecycle state per spec.md §4.5.
type State string

const (
	StateSpawning    State = "spawning"
	StateLoaded      State = "loaded"
	StateIdle        State = "idle"
	StateRunning     State = "running"
	StateTerminating State = "terminating"
	StateDead        State = "dead"
)

// HostAPI is the mediated surface a worker reaches via HostCall. Namespaces
// not present here are rejected with UnknownAPI.
type HostAPI interface {
	// Invoke dispatches a namespace.method call; the redactor has already
	// been applied to args by the caller before this is invoked.
	Invoke(ctx context.Context, namespace, method string, args map[string]any) (map[string]any, error)
}

// Config configures worker limits per spec.md §6.
type Config struct {
	Command         string
	Args            []string
	LoadTimeout     time.Duration
	CallTimeout     time.Duration
	MaxMemoryMiB    int
	ShutdownGrace   time.Duration
	AllowedEnv      []string // env var names copied from the host environment, everything else stripped
}

// DefaultConfig mirrors spec.md §6's sandbox.* defaults.
func DefaultConfig(command string, args ...string) Config {
	return Config{
		Command:       command,
		Args:          args,
		LoadTimeout:   5 * time.Second,
		CallTimeout:   5 * time.Second,
		MaxMemoryMiB:  64,
		ShutdownGrace: 2 * time.Second,
	}
}

// Worker is one isolated plugin/tool-hosting process.
type Worker struct {
	cfg Config
	api HostAPI

	mu    sync.Mutex
	state State
	cmd   *exec.Cmd
	stdin io.WriteCloser

	nextID  uint64
	pending sync.Map // uint64 -> chan *WorkerResponse

	exported []string
}

// Spawn starts the worker process and waits for it to advertise its
// exported names within LoadTimeout.
func Spawn(ctx context.Context, cfg Config, api HostAPI) (*Worker, error) {
	w := &Worker{cfg: cfg, api: api, state: StateSpawning}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = filteredEnv(cfg.AllowedEnv)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.state = StateDead
		return nil, domain.Wrap(domain.KindStorageUnavailable, err, "open worker stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		w.state = StateDead
		return nil, domain.Wrap(domain.KindStorageUnavailable, err, "open worker stdout")
	}

	if err := cmd.Start(); err != nil {
		w.state = StateDead
		return nil, domain.Wrap(domain.KindWorkerCrashed, err, "start worker process")
	}
	w.cmd = cmd
	w.stdin = stdin

	go w.readLoop(stdout)

	loadCtx, cancel := context.WithTimeout(ctx, cfg.LoadTimeout)
	defer cancel()
	names, err := w.call(loadCtx, RequestHealth, "", nil)
	if err != nil {
		w.Kill()
		w.state = StateDead
		if domain.Is(err, domain.KindTimeout) {
			return nil, domain.New(domain.KindLoadTimeout, "worker did not become ready within %s", cfg.LoadTimeout)
		}
		return nil, err
	}
	if exported, ok := names["exports"].([]any); ok {
		for _, n := range exported {
			if s, ok := n.(string); ok {
				w.exported = append(w.exported, s)
			}
		}
	}
	w.state = StateLoaded
	return w, nil
}

// filteredEnv returns only the named environment variables from the host
// environment; everything else (including credentials) is stripped, per
// the isolation contract in spec.md §4.5.
func filteredEnv(allowed []string) []string {
	out := make([]string, 0, len(allowed))
	for _, k := range allowed {
		if v, ok := os.LookupEnv(k); ok {
			out = append(out, k+"="+v)
		}
	}
	return out
}

// Exported lists the callable names the worker advertised at load time.
func (w *Worker) Exported() []string { return w.exported }

// State reports the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Call invokes an exported name on the worker, enforcing CallTimeout. A
// timeout moves the worker to terminating; the call itself fails Timeout.
func (w *Worker) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	w.mu.Lock()
	if w.state != StateLoaded && w.state != StateIdle {
		w.mu.Unlock()
		return nil, domain.New(domain.KindWorkerCrashed, "worker not in a callable state (%s)", w.state)
	}
	w.state = StateRunning
	w.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
	defer cancel()

	result, err := w.call(callCtx, RequestCall, name, args)

	w.mu.Lock()
	if err != nil && domain.Is(err, domain.KindTimeout) {
		w.state = StateTerminating
		w.mu.Unlock()
		w.Kill()
		return nil, err
	}
	w.state = StateIdle
	w.mu.Unlock()
	return result, err
}

func (w *Worker) call(ctx context.Context, kind RequestType, name string, args map[string]any) (map[string]any, error) {
	id := atomic.AddUint64(&w.nextID, 1)
	req := HostRequest{ID: id, Type: kind, Name: name, Args: args}

	ch := make(chan *WorkerResponse, 1)
	w.pending.Store(id, ch)
	defer w.pending.Delete(id)

	env := envelope{Kind: "request", Request: &req}
	line, err := json.Marshal(env)
	if err != nil {
		return nil, domain.Wrap(domain.KindStorageUnavailable, err, "marshal worker request")
	}
	line = append(line, '\n')

	if _, err := w.stdin.Write(line); err != nil {
		return nil, domain.Wrap(domain.KindWorkerCrashed, err, "write to worker stdin")
	}

	select {
	case resp := <-ch:
		if resp == nil {
			return nil, domain.New(domain.KindWorkerCrashed, "worker exited mid-call")
		}
		if !resp.OK {
			return nil, domain.New(domain.KindWorkerCrashed, "%s", resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, domain.New(domain.KindTimeout, "call %q exceeded timeout", name)
	}
}

func (w *Worker) readLoop(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		var env envelope
		if err := json.Unmarshal(sc.Bytes(), &env); err != nil {
			continue
		}
		switch env.Kind {
		case "response":
			if env.Response == nil {
				continue
			}
			if ch, ok := w.pending.Load(env.Response.ID); ok {
				ch.(chan *WorkerResponse) <- env.Response
			}
		case "host_call":
			if env.HostCall != nil {
				go w.handleHostCall(*env.HostCall)
			}
		}
	}
	// EOF or error: any calls still pending get an unblocking nil so
	// Call/call returns WorkerCrashed instead of hanging forever.
	w.pending.Range(func(key, value any) bool {
		value.(chan *WorkerResponse) <- nil
		return true
	})
}

func (w *Worker) handleHostCall(req HostCallRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.CallTimeout)
	defer cancel()

	resp := HostCallResponse{ID: req.ID}
	if w.api == nil {
		resp.Error = string(domain.KindUnknownAPI)
	} else {
		result, err := w.api.Invoke(ctx, req.Namespace, req.Method, req.Args)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.OK = true
			resp.Result = result
		}
	}

	env := envelope{Kind: "host_call_response", HostCallResponse: &resp}
	line, err := json.Marshal(env)
	if err != nil {
		return
	}
	line = append(line, '\n')
	w.mu.Lock()
	w.stdin.Write(line)
	w.mu.Unlock()
}

// Shutdown sends a shutdown message and waits up to ShutdownGrace for the
// process to exit before forcibly terminating it.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	w.state = StateTerminating
	w.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, w.cfg.ShutdownGrace)
	defer cancel()
	w.call(shutdownCtx, RequestShutdown, "", nil)

	done := make(chan error, 1)
	go func() { done <- w.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(w.cfg.ShutdownGrace):
		w.Kill()
	}
	w.mu.Lock()
	w.state = StateDead
	w.mu.Unlock()
	return nil
}

// Kill forcibly terminates the worker process.
func (w *Worker) Kill() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cmd != nil && w.cmd.Process != nil {
		w.cmd.Process.Kill()
	}
	w.state = StateDead
}
