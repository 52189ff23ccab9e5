package config

import (
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"

	"github.com/nexora-run/taskorch/internal/domain"
)

const includeKey = "$include"

// Load reads path (expanding ${ENV_VAR} references and resolving any
// top-level $include directives, merged depth-first the way the teacher's
// loader.go does) into a Config seeded from Default(), then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := loadRawRecursive(path, map[string]bool{})
	if err != nil {
		return cfg, domain.Wrap(domain.KindSchemaInvalid, err, "load config %s", path)
	}
	merged, err := yaml.Marshal(raw)
	if err != nil {
		return cfg, domain.Wrap(domain.KindSchemaInvalid, err, "remarshal config %s", path)
	}
	if err := yaml.Unmarshal(merged, &cfg); err != nil {
		return cfg, domain.Wrap(domain.KindSchemaInvalid, err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadRawRecursive(path string, seen map[string]bool) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[absPath] {
		return nil, domain.New(domain.KindSchemaInvalid, "config include cycle at %s", absPath)
	}
	seen[absPath] = true
	defer delete(seen, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	expanded := os.ExpandEnv(string(data))

	var raw map[string]any
	ext := strings.ToLower(filepath.Ext(absPath))
	if ext == ".json" || ext == ".json5" {
		if err := json5.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, err
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}

	includeVal, hasInclude := raw[includeKey]
	delete(raw, includeKey)
	if !hasInclude {
		return raw, nil
	}

	var includes []string
	switch v := includeVal.(type) {
	case string:
		includes = append(includes, v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				includes = append(includes, s)
			}
		}
	}

	merged := map[string]any{}
	baseDir := filepath.Dir(absPath)
	for _, inc := range includes {
		if strings.TrimSpace(inc) == "" {
			continue
		}
		incPath := inc
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(baseDir, incPath)
		}
		incRaw, err := loadRawRecursive(incPath, seen)
		if err != nil {
			return nil, err
		}
		merged = mergeMaps(merged, incRaw)
	}
	return mergeMaps(merged, raw), nil
}

func mergeMaps(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if bv, ok := out[k]; ok {
			if bm, ok := bv.(map[string]any); ok {
				if ov, ok := v.(map[string]any); ok {
					out[k] = mergeMaps(bm, ov)
					continue
				}
			}
		}
		out[k] = v
	}
	return out
}
