// Package plugins implements on-disk discovery and approval tracking for
// sandboxed tool plugins (the half of the Tool Registry/Sandbox Runtime
// pairing that lives on the filesystem rather than in a running process):
// a manifest.json under each plugin directory and a separate approved.json
// recording which manifests a human has signed off on.
//
// Grounded on internal/plugins/discovery.go's filesystem-walk-plus-TTL-cache
// idiom, generalized from the teacher's pluginsdk.Manifest to a manifest
// shape this domain's sandbox worker protocol actually needs (an entry
// point command plus the tool definitions it exposes) instead of the
// teacher's in-process Go-plugin registration surface, which this
// subprocess/JSON-protocol sandbox has no use for.
package plugins

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nexora-run/taskorch/internal/domain"
)

// ManifestFilename is the file DiscoverManifests looks for in each plugin
// directory.
const ManifestFilename = "manifest.json"

// Manifest describes one on-disk plugin: what to execute and what tools it
// claims to expose, loaded before the sandbox runtime ever spawns the
// worker process.
type Manifest struct {
	Name        string       `json:"name"`
	Version     string       `json:"version"`
	Description string       `json:"description,omitempty"`
	EntryPoint  string       `json:"entry_point"`
	Tools       []domain.Tool `json:"tools"`
	Signature   string       `json:"signature,omitempty"`
}

// Validate checks the manifest has the fields the sandbox runtime and tool
// registry both require before they'll touch it.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("manifest missing name")
	}
	if strings.TrimSpace(m.Version) == "" {
		return fmt.Errorf("manifest %s missing version", m.Name)
	}
	if strings.TrimSpace(m.EntryPoint) == "" {
		return fmt.Errorf("manifest %s missing entry_point", m.Name)
	}
	if len(m.Tools) == 0 {
		return fmt.Errorf("manifest %s declares no tools", m.Name)
	}
	for _, t := range m.Tools {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("manifest %s has a tool with no name", m.Name)
		}
	}
	return nil
}

// DecodeManifestFile reads and validates a manifest.json at path.
func DecodeManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// EntryPointPath resolves the manifest's entry point relative to the
// directory manifest.json was found in.
func (m *Manifest) EntryPointPath(manifestPath string) string {
	if filepath.IsAbs(m.EntryPoint) {
		return m.EntryPoint
	}
	return filepath.Join(filepath.Dir(manifestPath), m.EntryPoint)
}
