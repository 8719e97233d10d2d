package forge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Layout is the on-disk build root shared by every component: canonical
// sources, disposable build copies, the install prefix everything links
// against, the tarball cache and the bootstrapped MSYS2 environment.
type Layout struct {
	Base         string
	Repositories string
	Tarballs     string
	Installed    string
	Working      string
	Ccache       string
	Msys2        string
}

func newLayout(base string) (*Layout, error) {
	l := &Layout{
		Base:         base,
		Repositories: filepath.Join(base, "repositories"),
		Tarballs:     filepath.Join(base, "tarballs"),
		Installed:    filepath.Join(base, "installed"),
		Working:      filepath.Join(base, "working"),
		Ccache:       filepath.Join(base, ".ccache"),
		Msys2:        filepath.Join(base, "msys2"),
	}
	for _, d := range []string{l.Base, l.Repositories, l.Tarballs, l.Installed, l.Working, l.Ccache, l.Msys2} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", d, err)
		}
	}
	return l, nil
}

// msysPath converts a Windows path to the MSYS2 Unix form
// (C:\x\y -> /c/x/y). Paths already in Unix form pass through.
func msysPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if len(p) >= 2 && p[1] == ':' {
		return "/" + strings.ToLower(p[:1]) + p[2:]
	}
	return p
}

// Prefix returns the install prefix in the Unix form every configure
// invocation and .pc file uses.
func (l *Layout) Prefix() string {
	return msysPath(l.Installed)
}

// Shell returns the MSYS2 shell launcher path. Its existence doubles as
// the "toolchain is bootstrapped" signal.
func (l *Layout) Shell() string {
	return filepath.Join(l.Msys2, "msys2_shell.cmd")
}

// Marker returns the completion sentinel path for a package.
func (l *Layout) Marker(name string) string {
	return filepath.Join(l.Installed, ".built_"+name)
}

func (l *Layout) RepoDir(name string) string {
	return filepath.Join(l.Repositories, name)
}

func (l *Layout) BuildDir(name string) string {
	return filepath.Join(l.Working, name)
}

// PkgconfigDir returns the primary pkg-config directory of the prefix.
func (l *Layout) PkgconfigDir() string {
	return filepath.Join(l.Installed, "lib", "pkgconfig")
}

// buildEnv assembles the toolchain environment every command runs in:
// clang/LLVM tools, fully static compile and link flags, the shared
// prefix on all search paths, and pkg-config pinned to the prefix.
func (l *Layout) buildEnv(cfg *Config) map[string]string {
	pre := l.Prefix()
	pcpath := fmt.Sprintf("%s/lib/pkgconfig:%s/lib64/pkgconfig:%s/share/pkgconfig", pre, pre, pre)
	cflags := fmt.Sprintf("-static -O3 -march=%s -ffunction-sections -fdata-sections -I%s/include -DSDL_MAIN_HANDLED", cfg.March, pre)

	env := map[string]string{
		"MSYSTEM":           "UCRT64",
		"CHERE_INVOKING":    "1",
		"MSYS2_PATH_TYPE":   "inherit",
		"LC_ALL":            "C",
		"CC":                "clang",
		"CXX":               "clang++",
		"AR":                "llvm-ar",
		"RANLIB":            "llvm-ranlib",
		"NM":                "llvm-nm",
		"CFLAGS":            cflags,
		"CXXFLAGS":          cflags,
		"LDFLAGS":           fmt.Sprintf("-static -Wl,--gc-sections -L%s/lib -Wl,-u,_vsnprintf -Wl,-u,_snprintf", pre),
		"CCACHE_DIR":        l.Ccache,
		"PKG_CONFIG":        "pkg-config --static",
		"PKG_CONFIG_LIBDIR": pcpath,
		"PKG_CONFIG_PATH":   pcpath,
	}

	path := strings.Join([]string{
		filepath.Join(l.Installed, "bin"),
		filepath.Join(l.Msys2, "ucrt64", "bin"),
		filepath.Join(l.Msys2, "usr", "bin"),
		os.Getenv("PATH"),
	}, string(os.PathListSeparator))
	env["PATH"] = path

	return env
}

// envSlice flattens an environment map on top of the host environment,
// the overlay winning on conflicts.
func envSlice(overlay map[string]string) []string {
	out := make([]string, 0, len(overlay)+32)
	for _, kv := range os.Environ() {
		key := kv[:strings.IndexByte(kv, '=')+1]
		if _, shadowed := overlay[strings.TrimSuffix(key, "=")]; shadowed {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range overlay {
		out = append(out, k+"="+v)
	}
	return out
}
