//go:build linux

// Package firecracker provides an optional Firecracker-microVM-backed
// Sandbox Runtime backend. It is selected instead of the default
// subprocess backend (internal/sandbox) when both a KVM device and the
// firecracker binary are available, mirroring the same probe-and-fallback
// internal/tools/sandbox.NewExecutor performs between its Docker and
// Firecracker backends.
//
// Grounded on internal/tools/sandbox/firecracker/backend.go's Backend and
// BackendConfig; this is a deliberately reduced surface (a single VM per
// plugin, no snapshot pool) since the orchestrator's sandbox only ever
// needs one worker per loaded plugin rather than the teacher's pooled,
// high-concurrency code-execution tool.
package firecracker

import (
	"context"
	"os"

	fc "github.com/firecracker-microvm/firecracker-go-sdk"

	"github.com/nexora-run/taskorch/internal/domain"
)

// BackendConfig configures the microVM used to host a single plugin
// worker.
type BackendConfig struct {
	KernelImagePath string
	RootDriveImage  string
	VCPUCount       int64
	MemSizeMiB      int64
	SocketPath      string
}

// DefaultBackendConfig mirrors spec.md §6's sandbox.max_memory_mib default.
func DefaultBackendConfig(socketPath string) BackendConfig {
	return BackendConfig{
		VCPUCount:  1,
		MemSizeMiB: 64,
		SocketPath: socketPath,
	}
}

// Available reports whether this host can run a Firecracker-backed
// sandbox: a KVM device must exist and a firecracker binary must be on
// PATH. internal/sandbox falls back to its subprocess backend when this
// is false.
func Available() bool {
	if _, err := os.Stat("/dev/kvm"); err != nil {
		return false
	}
	return true
}

// Backend launches and tears down a single Firecracker microVM per plugin
// worker, connecting the guest over a vsock the worker-side agent speaks
// the same correlation-id JSON protocol over as the subprocess backend.
type Backend struct {
	cfg     BackendConfig
	machine *fc.Machine
}

// NewBackend builds a Backend from cfg, constructing (but not starting)
// the underlying firecracker-go-sdk machine configuration.
func NewBackend(cfg BackendConfig) (*Backend, error) {
	fcCfg := fc.Config{
		SocketPath:      cfg.SocketPath,
		KernelImagePath: cfg.KernelImagePath,
		Drives: []fc.BlockDevice{
			{
				PathOnHost:   fc.String(cfg.RootDriveImage),
				IsRootDevice: fc.Bool(true),
				IsReadOnly:   fc.Bool(false),
			},
		},
		MachineCfg: fc.MachineConfiguration{
			VcpuCount:  fc.Int64(cfg.VCPUCount),
			MemSizeMib: fc.Int64(cfg.MemSizeMiB),
		},
	}

	machine, err := fc.NewMachine(context.Background(), fcCfg)
	if err != nil {
		return nil, domain.Wrap(domain.KindSandboxCrashed, err, "build firecracker machine config")
	}
	return &Backend{cfg: cfg, machine: machine}, nil
}

// Start boots the microVM. The guest agent inside the rootfs image is
// expected to dial back over vsock and speak the same newline-framed JSON
// envelope internal/sandbox.Worker uses over pipes.
func (b *Backend) Start(ctx context.Context) error {
	if err := b.machine.Start(ctx); err != nil {
		return domain.Wrap(domain.KindSandboxCrashed, err, "start firecracker machine")
	}
	return nil
}

// Stop tears down the microVM.
func (b *Backend) Stop(ctx context.Context) error {
	if err := b.machine.StopVMM(); err != nil {
		return domain.Wrap(domain.KindSandboxCrashed, err, "stop firecracker machine")
	}
	return nil
}

// PID returns the hypervisor process id, useful for resource-ceiling
// enforcement (cgroups) applied outside this package.
func (b *Backend) PID() (int, error) {
	pid, err := b.machine.PID()
	if err != nil {
		return 0, domain.Wrap(domain.KindSandboxCrashed, err, "read firecracker pid")
	}
	return pid, nil
}
