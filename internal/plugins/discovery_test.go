package plugins

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nexora-run/taskorch/internal/domain"
)

func writeManifest(t *testing.T, dir, name string, m Manifest) string {
	t.Helper()
	pluginDir := filepath.Join(dir, name)
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	m.Name = name
	data, err := jsonMarshal(m)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	path := filepath.Join(pluginDir, ManifestFilename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestDiscoverManifestsFindsNestedManifests(t *testing.T) {
	t.Setenv("TASKORCH_DISABLE_PLUGIN_MANIFEST_CACHE", "1")
	dir := t.TempDir()
	writeManifest(t, dir, "weather", Manifest{
		Version:    "1.0.0",
		EntryPoint: "./run.sh",
		Tools:      []domain.Tool{{Name: "get_weather"}},
	})

	found, err := DiscoverManifests([]string{dir})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 manifest, got %d", len(found))
	}
	info, ok := found["weather"]
	if !ok {
		t.Fatalf("expected manifest keyed by name, got %+v", found)
	}
	if info.Manifest.EntryPoint != "./run.sh" {
		t.Fatalf("unexpected entry point: %+v", info.Manifest)
	}
}

func TestDiscoverManifestsRejectsDuplicateNames(t *testing.T) {
	t.Setenv("TASKORCH_DISABLE_PLUGIN_MANIFEST_CACHE", "1")
	dir := t.TempDir()
	writeManifest(t, dir, "dup-a", Manifest{Version: "1.0.0", EntryPoint: "a", Tools: []domain.Tool{{Name: "x"}}})
	writeManifest(t, dir, "dup-b", Manifest{Version: "1.0.0", EntryPoint: "b", Tools: []domain.Tool{{Name: "x"}}})

	// Force a name collision by rewriting dup-b's manifest with the same
	// declared name as dup-a, simulating two plugin directories claiming
	// the same identity.
	path := filepath.Join(dir, "dup-b", ManifestFilename)
	data, _ := jsonMarshal(Manifest{Name: "dup-a", Version: "1.0.0", EntryPoint: "b", Tools: []domain.Tool{{Name: "x"}}})
	os.WriteFile(path, data, 0o644)

	if _, err := DiscoverManifests([]string{dir}); err == nil {
		t.Fatal("expected duplicate manifest name to be rejected")
	}
}

func TestValidatePluginPathRejectsTraversal(t *testing.T) {
	if _, err := ValidatePluginPath("../../etc/passwd"); err == nil {
		t.Fatal("expected path traversal to be rejected")
	}
}

func TestWatcherFiresOnManifestChange(t *testing.T) {
	// The watcher watches the directories it's given non-recursively, so
	// point it directly at a plugin directory (as the discovery wiring
	// does per-plugin) rather than a parent holding several plugin
	// subdirectories.
	pluginDir := t.TempDir()
	changed := make(chan struct{}, 4)
	w, err := NewWatcher([]string{pluginDir}, func() { changed <- struct{}{} })
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Close()

	m := Manifest{Name: "late-arrival", Version: "1.0.0", EntryPoint: "x", Tools: []domain.Tool{{Name: "x"}}}
	data, _ := json.MarshalIndent(m, "", "  ")
	if err := os.WriteFile(filepath.Join(pluginDir, ManifestFilename), data, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a watcher callback after manifest write")
	}
}

func jsonMarshal(m Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
