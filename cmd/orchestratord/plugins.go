package main

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/nexora-run/taskorch/internal/config"
	"github.com/nexora-run/taskorch/internal/domain"
	"github.com/nexora-run/taskorch/internal/marketplace"
	"github.com/nexora-run/taskorch/internal/plugins"
	"github.com/nexora-run/taskorch/internal/sandbox"
	"github.com/nexora-run/taskorch/internal/toolregistry"
)

// pluginHost owns the sandbox runtime and dispatches tool calls that
// internal/toolregistry resolves to a loaded plugin's worker.
type pluginHost struct {
	runtime *sandbox.Runtime
}

func (h *pluginHost) CallPluginTool(ctx context.Context, pluginName, toolName string, args map[string]any) (map[string]any, error) {
	w, ok := h.runtime.Worker(pluginName)
	if !ok {
		return nil, domain.New(domain.KindNotApproved, "plugin %s is not loaded", pluginName)
	}
	return w.Call(ctx, toolName, args)
}

// noopHostAPI answers a worker's mediated host calls. None of the native
// tools this daemon ships need a plugin to call back into the host yet, so
// every namespace is rejected rather than silently accepted.
type noopHostAPI struct{}

func (noopHostAPI) Invoke(ctx context.Context, namespace, method string, args map[string]any) (map[string]any, error) {
	return nil, domain.New(domain.KindSchemaInvalid, "host API namespace %s.%s is not available", namespace, method)
}

// denyAllApprovals is the ApprovalLookup used when no signing secret is
// configured, so a misconfigured deployment fails closed (no plugin ever
// loads) instead of skipping the approval check.
type denyAllApprovals struct{}

func (denyAllApprovals) ApprovedVersion(name string) (string, bool) { return "", false }

// buildPluginRuntime constructs the sandbox runtime for this process,
// backed by an on-disk approval store when a signing secret is configured
// and a deny-everything stub otherwise (fail closed rather than open).
func buildPluginRuntime(cfg config.Config) (*sandbox.Runtime, error) {
	var approvals sandbox.ApprovalLookup = denyAllApprovals{}
	if cfg.Signature.Secret != "" {
		store, err := plugins.OpenApprovalStore(pluginApprovalPath(cfg.Root), []byte(cfg.Signature.Secret))
		if err != nil {
			return nil, err
		}
		approvals = store
	}

	return sandbox.NewRuntime(sandbox.Config{
		LoadTimeout:  cfg.Sandbox.LoadTimeout(),
		CallTimeout:  cfg.Sandbox.CallTimeout(),
		MaxMemoryMiB: cfg.Sandbox.MaxMemoryMiB,
	}, noopHostAPI{}, approvals, cfg.Signature.Enabled, []byte(cfg.Signature.Secret)), nil
}

// loadPlugins discovers manifests under cfg.Plugins.Paths, verifies each
// one's publisher signature, checks it against a recorded operator
// approval, and loads only the ones that pass both checks into runtime,
// registering their exported tools on registry. A manifest that fails
// either check is skipped with a logged reason rather than aborting
// startup.
func loadPlugins(ctx context.Context, cfg config.Config, registry *toolregistry.Registry, runtime *sandbox.Runtime) error {
	if len(cfg.Plugins.Paths) == 0 {
		return nil
	}

	found, err := plugins.DiscoverManifests(cfg.Plugins.Paths)
	if err != nil {
		return domain.Wrap(domain.KindSchemaInvalid, err, "discover plugin manifests")
	}

	verifier := marketplace.NewVerifier()
	for name, info := range found {
		result := verifier.VerifyManifest(info.Manifest)
		if result.Error != nil || !result.Valid {
			slog.Warn("skipping plugin with unverifiable manifest", "plugin", name, "error", result.Error)
			continue
		}

		p := domain.Plugin{
			Name:      info.Manifest.Name,
			Version:   info.Manifest.Version,
			Manifest:  info.Path,
			Signature: info.Manifest.Signature,
		}
		entryPoint := info.Manifest.EntryPointPath(info.Path)
		if _, err := runtime.Load(ctx, p, entryPoint); err != nil {
			slog.Warn("skipping plugin without a matching approval", "plugin", name, "error", err)
			continue
		}

		for _, tool := range info.Manifest.Tools {
			if err := registry.RegisterPlugin(name, tool.Name, tool.Description, tool.Schema); err != nil {
				slog.Warn("failed to register plugin tool", "plugin", name, "tool", tool.Name, "error", err)
			}
		}
	}
	return nil
}

func pluginApprovalPath(root string) string {
	return filepath.Join(root, "plugins", plugins.ApprovedFilename)
}
