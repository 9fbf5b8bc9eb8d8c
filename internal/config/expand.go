package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandContext holds variables available for expansion.
type ExpandContext struct {
	Here string // directory of the config file
}

// ExpandVariables expands %(here)s and ${ENV_VAR} references in the
// path-valued fields of a config, given the config file path. Webhook URLs
// and headers are left for the daemon to expand when it registers them.
func ExpandVariables(cfg *Config, configPath string) error {
	ctx := ExpandContext{Here: filepath.Dir(configPath)}

	fields := []struct {
		key string
		val *string
	}{
		{"daemon.logfile", &cfg.Daemon.Logfile},
		{"daemon.pid_file", &cfg.Daemon.PidFile},
		{"server.unix.file", &cfg.Server.Unix.File},
	}
	for _, f := range fields {
		v, err := ExpandString(*f.val, ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
		*f.val = v
	}

	for i, pattern := range cfg.Include {
		v, err := ExpandString(pattern, ctx)
		if err != nil {
			return fmt.Errorf("include[%d]: %w", i, err)
		}
		cfg.Include[i] = v
	}
	return nil
}

// ExpandString expands template variables and env references in s, then
// unescapes %% and $$.
func ExpandString(s string, ctx ExpandContext) (string, error) {
	if s == "" {
		return s, nil
	}

	result, err := expandTemplateVars(s, ctx)
	if err != nil {
		return "", err
	}
	result, err = expandEnvVars(result)
	if err != nil {
		return "", err
	}

	result = strings.ReplaceAll(result, "%%", "%")
	result = strings.ReplaceAll(result, "$$", "$")
	return result, nil
}

func expandTemplateVars(s string, ctx ExpandContext) (string, error) {
	var result strings.Builder
	i := 0
	for i < len(s) {
		if strings.HasPrefix(s[i:], "%%") {
			// Preserved for unescaping.
			result.WriteString("%%")
			i += 2
			continue
		}

		if strings.HasPrefix(s[i:], "%(") {
			end := strings.Index(s[i:], ")s")
			if end < 0 {
				return "", fmt.Errorf("unclosed template variable at position %d in %q", i, s)
			}
			name := s[i+2 : i+end]
			switch name {
			case "here":
				result.WriteString(ctx.Here)
			default:
				return "", fmt.Errorf("unknown template variable: %%(%s)s", name)
			}
			i += end + 2
			continue
		}

		result.WriteByte(s[i])
		i++
	}
	return result.String(), nil
}

func expandEnvVars(s string) (string, error) {
	var result strings.Builder
	i := 0
	for i < len(s) {
		if strings.HasPrefix(s[i:], "$$") {
			result.WriteString("$$")
			i += 2
			continue
		}

		if strings.HasPrefix(s[i:], "${") {
			end := strings.Index(s[i:], "}")
			if end < 0 {
				return "", fmt.Errorf("unclosed environment variable reference at position %d in %q", i, s)
			}
			name := s[i+2 : i+end]
			val, ok := os.LookupEnv(name)
			if !ok {
				return "", fmt.Errorf("undefined environment variable: ${%s}", name)
			}
			result.WriteString(val)
			i += end + 1
			continue
		}

		result.WriteByte(s[i])
		i++
	}
	return result.String(), nil
}
