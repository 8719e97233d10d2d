package forge

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPackagesValid(t *testing.T) {
	require.NoError(t, validatePackages(defaultPackages()))
}

func TestValidatePackagesRejectsForwardEdge(t *testing.T) {
	err := validatePackages([]*Package{
		{Name: "a", Kind: kindMake, DependsOn: []string{"b"}},
		{Name: "b", Kind: kindMake},
	})
	assert.ErrorContains(t, err, "not declared before")
}

func TestValidatePackagesRejectsDuplicate(t *testing.T) {
	err := validatePackages([]*Package{
		{Name: "a", Kind: kindMake},
		{Name: "a", Kind: kindCMake},
	})
	assert.ErrorContains(t, err, "duplicate")
}

func TestValidatePackagesRejectsUnknownKind(t *testing.T) {
	err := validatePackages([]*Package{{Name: "a", Kind: "scons"}})
	assert.ErrorContains(t, err, "unknown build kind")
}

func TestValidatePackagesRejectsIncompleteTarball(t *testing.T) {
	err := validatePackages([]*Package{
		{Name: "a", Kind: kindMake, Tarball: &TarballSource{File: "a.tar.gz"}},
	})
	assert.ErrorContains(t, err, "incomplete tarball source")
}

func TestOutputCheckResolution(t *testing.T) {
	p := &Package{Name: "zlib"}
	check := p.outputCheck()
	require.NotNil(t, check)
	assert.Equal(t, filepath.Join("lib", "pkgconfig"), check.Dir)
	assert.Equal(t, "zlib.pc", check.File)

	p = &Package{Name: "glslang", SkipOutputCheck: true}
	assert.Nil(t, p.outputCheck())

	p = &Package{Name: "luajit", Output: &OutputCheck{Dir: "lib", File: "libluajit-5.1.a"}}
	check = p.outputCheck()
	require.NotNil(t, check)
	assert.Equal(t, "libluajit-5.1.a", check.File)
}
