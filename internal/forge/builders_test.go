package forge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuildFixture(t *testing.T) (*buildContext, *fakeRunner) {
	t.Helper()
	layout, err := newLayout(t.TempDir())
	require.NoError(t, err)
	fake := &fakeRunner{}
	return &buildContext{exec: fake, layout: layout, jobs: 4}, fake
}

func TestExpandPrefix(t *testing.T) {
	b, _ := newBuildFixture(t)
	got := b.expand("-DCMAKE_TOOLCHAIN={pre}/toolchain.cmake")
	assert.Equal(t, "-DCMAKE_TOOLCHAIN="+b.layout.Prefix()+"/toolchain.cmake", got)
}

func TestJobsForOverride(t *testing.T) {
	b, _ := newBuildFixture(t)
	assert.Equal(t, 4, b.jobsFor(&Package{Name: "zlib"}))
	assert.Equal(t, 1, b.jobsFor(&Package{Name: "xz", Jobs: 1}))
}

func TestDispatchCMake(t *testing.T) {
	b, fake := newBuildFixture(t)
	dir := t.TempDir()
	p := &Package{Name: "zimg", Kind: kindCMake, Flags: "-DBUILD_TESTING=OFF"}

	require.NoError(t, b.dispatch(p, dir))
	require.Len(t, fake.calls, 3)
	assert.Equal(t, "cmake", fake.calls[0].Prog)
	assert.Contains(t, fake.calls[0].Args, "-DBUILD_SHARED_LIBS=OFF")
	assert.Contains(t, fake.calls[0].Args, "-DBUILD_TESTING=OFF")
	assert.Contains(t, fake.calls[0].Args, "-DCMAKE_INSTALL_PREFIX="+b.layout.Prefix())
	assert.Equal(t, []string{"-C", "build", "-j4"}, fake.calls[1].Args)
	assert.Equal(t, []string{"-C", "build", "install"}, fake.calls[2].Args)
	for _, c := range fake.calls {
		assert.Equal(t, dir, c.Dir)
	}
}

func TestDispatchMesonStaticArgs(t *testing.T) {
	b, fake := newBuildFixture(t)
	p := &Package{Name: "dav1d", Kind: kindMeson, Flags: "-Denable_tools=false"}

	require.NoError(t, b.dispatch(p, t.TempDir()))
	require.NotEmpty(t, fake.calls)
	args := fake.calls[0].Args
	assert.Equal(t, "meson", fake.calls[0].Prog)
	assert.Contains(t, args, "-Ddefault_library=static")
	assert.Contains(t, args, "-Dc_link_args=-static -lintl -liconv")
	assert.Contains(t, args, "-Denable_tools=false")
}

func TestDispatchAutotoolsBootstrap(t *testing.T) {
	b, fake := newBuildFixture(t)

	// A checkout with only configure.ac must be autoreconf'd first.
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configure.ac"), nil, 0o644))
	p := &Package{Name: "fribidi", Kind: kindAutotools}

	require.NoError(t, b.dispatch(p, dir))
	require.Len(t, fake.calls, 4)
	assert.Equal(t, "autoreconf", fake.calls[0].Prog)
	assert.Equal(t, "./configure", fake.calls[1].Prog)
	assert.Contains(t, fake.calls[1].Args, "--enable-static")
	assert.Contains(t, fake.calls[1].Args, "--disable-shared")
}

func TestDispatchAutotoolsSkipsBootstrap(t *testing.T) {
	b, fake := newBuildFixture(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configure"), nil, 0o755))
	p := &Package{Name: "libiconv", Kind: kindAutotools}

	require.NoError(t, b.dispatch(p, dir))
	require.Len(t, fake.calls, 3)
	assert.Equal(t, "./configure", fake.calls[0].Prog)
}

func TestDispatchLuaJIT(t *testing.T) {
	b, fake := newBuildFixture(t)
	p := &Package{Name: "luajit", Kind: kindLuaJIT}

	require.NoError(t, b.dispatch(p, t.TempDir()))
	require.Len(t, fake.calls, 2)
	assert.Contains(t, fake.calls[0].Args, "BUILDMODE=static")
}

func TestDispatchHeaderOnly(t *testing.T) {
	b, fake := newBuildFixture(t)
	p := &Package{Name: "glslang", Kind: kindHeaderOnly}

	require.NoError(t, b.dispatch(p, t.TempDir()))
	assert.Empty(t, fake.calls)
}

func TestExpatFixupFlattensNestedDir(t *testing.T) {
	b, _ := newBuildFixture(t)
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "expat"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "expat", "CMakeLists.txt"), nil, 0o644))

	require.NoError(t, preBuildFixups["expat"](b, dir))
	assert.FileExists(t, filepath.Join(dir, "CMakeLists.txt"))
	assert.NoDirExists(t, filepath.Join(dir, "expat"))
}

func TestShadercFixupVendorsThirdParty(t *testing.T) {
	b, _ := newBuildFixture(t)
	for _, sub := range []string{"glslang", "spirv-tools", "spirv-headers"} {
		src := b.layout.RepoDir(sub)
		require.NoError(t, os.MkdirAll(src, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(src, "CMakeLists.txt"), nil, 0o644))
	}
	dir := t.TempDir()

	require.NoError(t, preBuildFixups["shaderc"](b, dir))
	for _, sub := range []string{"glslang", "spirv-tools", "spirv-headers"} {
		assert.FileExists(t, filepath.Join(dir, "third_party", sub, "CMakeLists.txt"))
	}
}
