package config

import (
	"fmt"
	"path/filepath"
	"sort"
)

// ResolveIncludes loads every file matched by cfg.Include and merges its
// buffers and webhooks into cfg. Patterns that match nothing produce a
// warning. Relative patterns resolve against configDir.
func ResolveIncludes(cfg *Config, configDir string) ([]string, error) {
	if len(cfg.Include) == 0 {
		return nil, nil
	}

	var warnings []string
	seen := make(map[string]bool)

	for _, pattern := range cfg.Include {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(configDir, pattern)
		}

		matches, err := filepath.Glob(pattern)
		if err != nil {
			return warnings, fmt.Errorf("invalid include pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			warnings = append(warnings, fmt.Sprintf("include pattern %q matched no files", pattern))
			continue
		}
		sort.Strings(matches)

		for _, path := range matches {
			absPath, err := filepath.Abs(path)
			if err != nil {
				return warnings, fmt.Errorf("cannot resolve include path %q: %w", path, err)
			}
			if seen[absPath] {
				return warnings, fmt.Errorf("file included twice: %s", absPath)
			}
			seen[absPath] = true

			included, incWarnings, err := Load(absPath)
			warnings = append(warnings, incWarnings...)
			if err != nil {
				return warnings, fmt.Errorf("include %s: %w", absPath, err)
			}
			if len(included.Include) > 0 {
				warnings = append(warnings, fmt.Sprintf("%s: nested include ignored", absPath))
			}

			if err := mergeBuffers(cfg, included, absPath); err != nil {
				return warnings, err
			}
			mergeWebhooks(cfg, included)
		}
	}

	cfg.Include = nil
	return warnings, nil
}

func mergeBuffers(dst, src *Config, srcPath string) error {
	for name, b := range src.Buffers {
		if _, ok := dst.Buffers[name]; ok {
			return fmt.Errorf("duplicate buffer %q: defined in both main config and %s", name, srcPath)
		}
		if dst.Buffers == nil {
			dst.Buffers = make(map[string]BufferConfig)
		}
		dst.Buffers[name] = b
	}
	return nil
}

// Later definitions win for webhooks.
func mergeWebhooks(dst, src *Config) {
	for name, wh := range src.Webhooks {
		if dst.Webhooks == nil {
			dst.Webhooks = make(map[string]WebhookConfig)
		}
		dst.Webhooks[name] = wh
	}
}

// LoadWithIncludes loads a config file, expands variables, and resolves
// includes. Merged buffers are revalidated against the main file's limits.
func LoadWithIncludes(path string) (*Config, []string, error) {
	cfg, warnings, err := Load(path)
	if err != nil {
		return nil, warnings, err
	}

	if err := ExpandVariables(cfg, path); err != nil {
		return nil, warnings, fmt.Errorf("variable expansion failed: %w", err)
	}

	incWarnings, err := ResolveIncludes(cfg, filepath.Dir(path))
	warnings = append(warnings, incWarnings...)
	if err != nil {
		return nil, warnings, err
	}

	if errs := Validate(cfg); len(errs) > 0 {
		return nil, warnings, validationError(path, errs)
	}
	return cfg, warnings, nil
}
