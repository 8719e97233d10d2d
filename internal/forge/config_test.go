package forge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeTemp(t, "mpvforge.conf", `
# comment
MPVFORGE_JOBS = 4
MPVFORGE_MARCH="znver4"
BASE_DIR='C:\build'
malformed line without equals
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "4", cfg.Values["MPVFORGE_JOBS"])
	assert.Equal(t, "znver4", cfg.Values["MPVFORGE_MARCH"])
	assert.Equal(t, `C:\build`, cfg.Values["BASE_DIR"])
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.conf"))
	require.NoError(t, err)
	assert.NotNil(t, cfg.Values)
}

func TestEnvOverridesWin(t *testing.T) {
	path := writeTemp(t, "mpvforge.conf", "MPVFORGE_MARCH=native\n")
	t.Setenv("MPVFORGE_MARCH", "x86-64-v2")
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "x86-64-v2", cfg.Values["MPVFORGE_MARCH"])
}

func TestInitConfigDefaults(t *testing.T) {
	cfg := &Config{Values: map[string]string{}}
	initConfig(cfg)
	assert.Greater(t, cfg.Jobs, 0)
	assert.Equal(t, "x86-64-v3", cfg.March)

	cfg = &Config{Values: map[string]string{
		"MPVFORGE_JOBS":  "3",
		"MPVFORGE_MARCH": "znver3",
	}}
	initConfig(cfg)
	assert.Equal(t, 3, cfg.Jobs)
	assert.Equal(t, "znver3", cfg.March)
}

func TestLoadPackageOverrides(t *testing.T) {
	_, err := loadPackageOverrides(filepath.Join(t.TempDir(), "packages.yaml"))
	require.NoError(t, err)

	path := writeTemp(t, "packages.yaml", `
packages:
  zlib:
    flags: "-DZLIB_EXTRA=1"
  fftw:
    disabled: true
`)
	overrides, err := loadPackageOverrides(path)
	require.NoError(t, err)
	assert.Equal(t, "-DZLIB_EXTRA=1", overrides["zlib"].Flags)
	assert.True(t, overrides["fftw"].Disabled)

	_, err = loadPackageOverrides(writeTemp(t, "packages.yaml", "packages: [not a map"))
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	pkgs := []*Package{
		{Name: "a", Kind: kindMake},
		{Name: "b", Kind: kindMake, DependsOn: []string{"a"}},
		{Name: "c", Kind: kindMake, DependsOn: []string{"a", "b"}},
	}

	out, err := applyOverrides(pkgs, map[string]PackageOverride{
		"a": {Flags: "X=1"},
		"b": {Disabled: true},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "X=1", out[0].Flags)
	assert.Equal(t, "c", out[1].Name)
	assert.Equal(t, []string{"a"}, out[1].DependsOn, "disabled package must leave dependents' edges")

	_, err = applyOverrides(pkgs, map[string]PackageOverride{"ghost": {}})
	assert.ErrorContains(t, err, "unknown package")
}
