package forge

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigFile is the default configuration path, relative to the
// working directory. MPVFORGE_CONFIG overrides it.
var ConfigFile = "mpvforge.conf"

// Config struct
type Config struct {
	Values map[string]string
	Jobs   int
	March  string
}

// Load mpvforge.conf and apply defaults
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	// Merge MPVFORGE_* env overrides
	mergeEnvOverrides(cfg)

	return cfg, nil
}

// Merge MPVFORGE_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "MPVFORGE_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

func initConfig(cfg *Config) {
	Debug = cfg.Values["MPVFORGE_DEBUG"] == "1"

	cfg.Jobs = runtime.NumCPU()
	if j := cfg.Values["MPVFORGE_JOBS"]; j != "" {
		if n, err := strconv.Atoi(j); err == nil && n > 0 {
			cfg.Jobs = n
		}
	}

	cfg.March = cfg.Values["MPVFORGE_MARCH"]
	if cfg.March == "" {
		cfg.March = "x86-64-v3"
	}
}

// PackageOverride is one entry of the optional packages.yaml overlay.
// It lets a user re-pin a source URL, replace build flags or disable a
// package entirely without recompiling the tool.
type PackageOverride struct {
	Source   string `yaml:"source"`
	Flags    string `yaml:"flags"`
	B3       string `yaml:"b3"`
	Disabled bool   `yaml:"disabled"`
}

type overrideFile struct {
	Packages map[string]PackageOverride `yaml:"packages"`
}

// loadPackageOverrides parses the YAML overlay. A missing file is not
// an error; a malformed one is.
func loadPackageOverrides(path string) (map[string]PackageOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var f overrideFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return f.Packages, nil
}

// applyOverrides merges the overlay into the package list. Referencing
// an unknown package is a hard error so typos don't go unnoticed.
func applyOverrides(pkgs []*Package, overrides map[string]PackageOverride) ([]*Package, error) {
	if len(overrides) == 0 {
		return pkgs, nil
	}
	byName := make(map[string]*Package, len(pkgs))
	for _, p := range pkgs {
		byName[p.Name] = p
	}
	disabled := make(map[string]bool)
	for name, ov := range overrides {
		p, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("packages.yaml references unknown package %q", name)
		}
		if ov.Source != "" {
			p.Repo = ov.Source
		}
		if ov.Flags != "" {
			p.Flags = ov.Flags
		}
		if ov.B3 != "" && p.Tarball != nil {
			p.Tarball.B3 = ov.B3
		}
		if ov.Disabled {
			disabled[name] = true
		}
	}
	if len(disabled) == 0 {
		return pkgs, nil
	}
	kept := make([]*Package, 0, len(pkgs))
	for _, p := range pkgs {
		if disabled[p.Name] {
			continue
		}
		deps := p.DependsOn[:0:0]
		for _, d := range p.DependsOn {
			if !disabled[d] {
				deps = append(deps, d)
			}
		}
		p.DependsOn = deps
		kept = append(kept, p)
	}
	return kept, nil
}
