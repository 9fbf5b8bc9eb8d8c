package config

import (
	"fmt"
	"os"
)

// EnvConfig names the environment variable consulted by Resolve.
const EnvConfig = "CIRCBUF_CONFIG"

// DefaultSearchPaths is the ordered list of config file paths to try.
var DefaultSearchPaths = []string{
	"./circbuf.toml",
	"/etc/circbuf/circbuf.toml",
}

// Resolve finds the config file path by checking, in order:
//  1. Explicit path from -c flag (if non-empty)
//  2. CIRCBUF_CONFIG environment variable
//  3. DefaultSearchPaths
func Resolve(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("cannot read config: %s: %w", explicit, err)
		}
		return explicit, nil
	}

	if env := os.Getenv(EnvConfig); env != "" {
		if _, err := os.Stat(env); err != nil {
			return "", fmt.Errorf("cannot read config: %s: %w", env, err)
		}
		return env, nil
	}

	for _, p := range DefaultSearchPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found; searched %v", DefaultSearchPaths)
}
