package sandbox

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/nexora-run/taskorch/internal/domain"
)

// ApprovalLookup answers the plugin-approval-binding check from spec.md
// §4.5: loading a plugin requires a recorded approval whose version
// matches, and (if enabled) a valid HMAC of the entry bytes.
type ApprovalLookup interface {
	ApprovedVersion(name string) (version string, ok bool)
}

// Runtime is the C5 Sandbox Runtime: spawns and tracks workers, and
// mediates plugin loading against the approval/signature binding.
type Runtime struct {
	cfg             Config
	api             HostAPI
	approvals       ApprovalLookup
	signatureSecret []byte
	signatureOn     bool

	mu      sync.Mutex
	workers map[string]*Worker // plugin name -> worker
}

// NewRuntime builds a Runtime. signatureSecret is the HMAC key used to
// verify tool/plugin entry bytes when signatureOn is true.
func NewRuntime(cfg Config, api HostAPI, approvals ApprovalLookup, signatureOn bool, signatureSecret []byte) *Runtime {
	return &Runtime{
		cfg:             cfg,
		api:             api,
		approvals:       approvals,
		signatureOn:     signatureOn,
		signatureSecret: signatureSecret,
		workers:         make(map[string]*Worker),
	}
}

// Load spawns a worker hosting a plugin, after checking the approval
// binding. command/args describe how to run the plugin's entry point
// (e.g. an interpreter + the entry file path).
func (r *Runtime) Load(ctx context.Context, p domain.Plugin, command string, args ...string) (*Worker, error) {
	version, ok := r.approvals.ApprovedVersion(p.Name)
	if !ok || version != p.Version {
		return nil, domain.New(domain.KindNotApproved, "plugin %s version %s has no matching approval", p.Name, p.Version)
	}

	if r.signatureOn {
		expected := p.Signature
		if !verifyHMAC(r.signatureSecret, p.EntryPointBytes, expected) {
			return nil, domain.New(domain.KindSignatureMismatch, "plugin %s signature does not match entry bytes", p.Name)
		}
	}

	cfg := r.cfg
	cfg.Command = command
	cfg.Args = args
	w, err := Spawn(ctx, cfg, r.api)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.workers[p.Name] = w
	r.mu.Unlock()
	return w, nil
}

// Unload shuts down a loaded plugin's worker.
func (r *Runtime) Unload(ctx context.Context, name string) error {
	r.mu.Lock()
	w, ok := r.workers[name]
	delete(r.workers, name)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return w.Shutdown(ctx)
}

// Worker returns the loaded worker for a plugin, if any.
func (r *Runtime) Worker(name string) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[name]
	return w, ok
}

// Loaded lists currently loaded plugin names.
func (r *Runtime) Loaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.workers))
	for name := range r.workers {
		out = append(out, name)
	}
	return out
}

// SignHMAC produces the hex HMAC-SHA256 signature stored in
// tool_signatures.json / a plugin's manifest signature field.
func SignHMAC(secret, entryBytes []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(entryBytes)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHMAC(secret, entryBytes []byte, expectedHex string) bool {
	want := SignHMAC(secret, entryBytes)
	return hmac.Equal([]byte(want), []byte(expectedHex))
}
