package forge

import (
	"fmt"
	"path/filepath"
)

// BuildKind selects the build adapter for a package.
type BuildKind string

const (
	kindCMake      BuildKind = "cmake"
	kindMeson      BuildKind = "meson"
	kindAutotools  BuildKind = "autotools"
	kindMake       BuildKind = "make"
	kindLuaJIT     BuildKind = "luajit"
	kindHeaderOnly BuildKind = "none"
)

// TarballSource pins a package to a released archive instead of a VCS
// checkout. B3 optionally pins the archive's BLAKE3 digest.
type TarballSource struct {
	File string
	URL  string
	B3   string
}

// OutputCheck names the installed artifact whose absence, despite a
// completion marker, proves the install is corrupt.
type OutputCheck struct {
	Dir  string // relative to the install prefix
	File string
}

// Package describes one third-party dependency: where its source comes
// from, how it builds, and which earlier packages force its rebuild.
type Package struct {
	Name      string
	Repo      string // git URL; empty means tarball or vendored
	Kind      BuildKind
	Flags     string // opaque template; {pre} expands to the prefix
	DependsOn []string

	Tarball         *TarballSource
	Output          *OutputCheck // nil means the default <name>.pc check
	SkipOutputCheck bool         // header-only packages install no single artifact
	Shallow         bool         // clone with --depth 1
	Jobs            int          // 0 uses the configured default
}

// outputCheck resolves the integrity-check target for the package.
func (p *Package) outputCheck() *OutputCheck {
	if p.SkipOutputCheck {
		return nil
	}
	if p.Output != nil {
		return p.Output
	}
	return &OutputCheck{Dir: filepath.Join("lib", "pkgconfig"), File: p.Name + ".pc"}
}

// defaultPackages is the full dependency set of the two top-level
// projects, in build order. depends_on edges must point strictly
// earlier in this list; validatePackages enforces that at startup.
func defaultPackages() []*Package {
	const zlibCMakeFlags = `-DZLIB_LIBRARY="{pre}/lib/libz.a" -DZLIB_INCLUDE_DIR="{pre}/include"`

	return []*Package{
		{Name: "expat", Repo: "https://github.com/libexpat/libexpat.git", Kind: kindCMake,
			Flags: "-DEXPAT_BUILD_DOCS=OFF -DEXPAT_BUILD_EXAMPLES=OFF -DEXPAT_BUILD_TESTS=OFF -DEXPAT_BUILD_TOOLS=OFF"},
		{Name: "gettext", Kind: kindAutotools, Flags: "--disable-java --disable-csharp",
			Tarball:         &TarballSource{File: "gettext-0.22.tar.xz", URL: "https://ftp.gnu.org/pub/gnu/gettext/gettext-0.22.tar.xz"},
			SkipOutputCheck: true},
		{Name: "bzip2", Repo: "https://sourceware.org/git/bzip2.git", Kind: kindMake,
			Flags:  `PREFIX="{pre}"`,
			Output: &OutputCheck{Dir: "lib", File: "libbz2.a"}},
		{Name: "zlib", Repo: "https://github.com/madler/zlib.git", Kind: kindCMake,
			Flags: "-DZLIB_BUILD_EXAMPLES=OFF"},
		{Name: "xz", Kind: kindAutotools, Flags: "--disable-nls",
			Tarball: &TarballSource{File: "xz-5.4.4.tar.xz", URL: "https://github.com/tukaani-project/xz/releases/download/v5.4.4/xz-5.4.4.tar.xz"},
			Output:  &OutputCheck{Dir: "lib/pkgconfig", File: "liblzma.pc"},
			Jobs:    1}, // parallel make races on Windows here
		{Name: "zimg", Repo: "https://github.com/sekrit-twc/zimg.git", Kind: kindAutotools},
		{Name: "libpng", Repo: "https://github.com/glennrp/libpng.git", Kind: kindCMake,
			Flags:     "-DPNG_SHARED=OFF -DPNG_TESTS=OFF -DPNG_EXECUTABLES=OFF " + zlibCMakeFlags,
			DependsOn: []string{"zlib"}},
		{Name: "libjpeg-turbo", Repo: "https://github.com/libjpeg-turbo/libjpeg-turbo.git", Kind: kindCMake,
			Flags:     "-DWITH_TURBOJPEG=OFF -DENABLE_SHARED=OFF -DENABLE_STATIC=ON " + zlibCMakeFlags,
			DependsOn: []string{"zlib"},
			Output:    &OutputCheck{Dir: "lib/pkgconfig", File: "libjpeg.pc"}},
		{Name: "freetype", Repo: "https://gitlab.freedesktop.org/freetype/freetype.git", Kind: kindMeson,
			Flags:     "-Dpng=disabled -Dbzip2=disabled -Dbrotli=disabled -Dzlib=disabled -Dharfbuzz=disabled -Dtests=disabled",
			DependsOn: []string{"libpng", "bzip2", "zlib"},
			Output:    &OutputCheck{Dir: "lib/pkgconfig", File: "freetype2.pc"}},
		{Name: "libiconv", Kind: kindAutotools,
			Tarball: &TarballSource{File: "libiconv-1.17.tar.gz", URL: "https://mirror.init7.net/gnu/libiconv/libiconv-1.17.tar.gz"},
			Output:  &OutputCheck{Dir: "lib", File: "libiconv.a"}},
		{Name: "fribidi", Repo: "https://github.com/fribidi/fribidi.git", Kind: kindMeson,
			Flags: "-Ddocs=false -Dtests=false -Dbin=false"},
		{Name: "harfbuzz", Repo: "https://github.com/harfbuzz/harfbuzz.git", Kind: kindCMake,
			Flags:     "-DCMAKE_BUILD_TYPE=Release -DHB_HAVE_FREETYPE=ON -DHB_HAVE_ICU=OFF -DHB_HAVE_GLIB=OFF -DHB_HAVE_GOBJECT=OFF -DHB_HAVE_GRAPHITE2=OFF -DHB_BUILD_TESTS=OFF -DHB_BUILD_UTILS=OFF",
			DependsOn: []string{"freetype"}},
		{Name: "fontconfig", Repo: "https://gitlab.freedesktop.org/fontconfig/fontconfig.git", Kind: kindMeson,
			Flags:     "-Dtests=disabled -Ddoc=disabled",
			DependsOn: []string{"freetype", "expat", "libiconv", "gettext"}},
		{Name: "libass", Repo: "https://github.com/libass/libass.git", Kind: kindAutotools,
			Flags:     "--enable-fontconfig",
			DependsOn: []string{"freetype", "fribidi", "harfbuzz", "fontconfig"}},
		{Name: "lcms2", Repo: "https://github.com/mm2/Little-CMS.git", Kind: kindMeson},
		{Name: "libepoxy", Repo: "https://github.com/anholt/libepoxy.git", Kind: kindMeson,
			Flags:  "-Dtests=false -Dglx=no -Degl=no",
			Output: &OutputCheck{Dir: "lib/pkgconfig", File: "epoxy.pc"}},
		{Name: "spirv-headers", Repo: "https://github.com/KhronosGroup/SPIRV-Headers.git", Kind: kindCMake,
			Flags:           "-DSPIRV_HEADERS_SKIP_EXAMPLES=ON -DSPIRV_HEADERS_SKIP_INSTALL_EXAMPLES=ON",
			SkipOutputCheck: true},
		{Name: "spirv-cross", Repo: "https://github.com/KhronosGroup/SPIRV-Cross.git", Kind: kindCMake,
			Flags:  "-DSPIRV_CROSS_CLI=OFF -DSPIRV_CROSS_ENABLE_TESTS=OFF",
			Output: &OutputCheck{Dir: "lib/pkgconfig", File: "spirv-cross-c.pc"}},
		// glslang and spirv-tools are pulled in source form only; shaderc
		// vendors them into third_party/ and builds everything itself.
		{Name: "glslang", Repo: "https://github.com/KhronosGroup/glslang.git", Kind: kindHeaderOnly,
			SkipOutputCheck: true},
		{Name: "spirv-tools", Repo: "https://github.com/KhronosGroup/SPIRV-Tools.git", Kind: kindHeaderOnly,
			SkipOutputCheck: true},
		{Name: "shaderc", Repo: "https://github.com/google/shaderc.git", Kind: kindCMake,
			Flags:     "-DSHADERC_SKIP_TESTS=ON -DSHADERC_SKIP_EXAMPLES=ON -DSHADERC_SKIP_COPYRIGHT_CHECK=ON -DSHADERC_ENABLE_SHARED_CRT=OFF",
			DependsOn: []string{"glslang", "spirv-tools", "spirv-headers"}},
		{Name: "ffnvcodec", Repo: "https://git.videolan.org/git/ffmpeg/nv-codec-headers.git", Kind: kindMake,
			Flags: `PREFIX="{pre}"`},
		{Name: "dav1d", Repo: "https://code.videolan.org/videolan/dav1d.git", Kind: kindMeson,
			Flags: "-Denable_tests=false -Denable_tools=false --libdir=lib"},
		{Name: "libplacebo", Repo: "https://code.videolan.org/videolan/libplacebo.git", Kind: kindMeson,
			Flags:     "-Dopengl=enabled -Dd3d11=enabled -Dvulkan=enabled -Dshaderc=enabled -Dlcms=enabled -Dtests=false -Ddemos=false -Dxxhash=disabled -Dlibdovi=disabled",
			DependsOn: []string{"shaderc", "lcms2", "libepoxy", "glslang"}},
		{Name: "luajit", Repo: "https://github.com/LuaJIT/LuaJIT.git", Kind: kindLuaJIT,
			Flags: `PREFIX="{pre}"`},
		{Name: "uchardet", Repo: "https://gitlab.freedesktop.org/uchardet/uchardet.git", Kind: kindCMake,
			Flags: "-DBUILD_BINARY=OFF"},
		{Name: "libsoxr", Repo: "https://git.code.sf.net/p/soxr/code", Kind: kindCMake,
			Flags:  "-DCMAKE_POLICY_VERSION_MINIMUM=3.5 -DBUILD_TESTS=OFF -DWITH_OPENMP=OFF",
			Output: &OutputCheck{Dir: "lib", File: "libsoxr.a"}},
		{Name: "fftw", Kind: kindAutotools,
			Flags:   "--disable-doc --enable-threads --enable-sse2 --enable-avx2 --with-our-malloc --with-combined-threads --disable-fortran",
			Tarball: &TarballSource{File: "fftw-3.3.10.tar.gz", URL: "https://www.fftw.org/fftw-3.3.10.tar.gz"},
			Output:  &OutputCheck{Dir: "lib/pkgconfig", File: "fftw3.pc"}},
		{Name: "libsamplerate", Repo: "https://github.com/libsndfile/libsamplerate.git", Kind: kindCMake,
			Flags:  "-DCMAKE_POLICY_VERSION_MINIMUM=3.5 -DBUILD_TESTING=OFF",
			Output: &OutputCheck{Dir: "lib/pkgconfig", File: "samplerate.pc"}},
		{Name: "rubberband", Repo: "https://github.com/breakfastquay/rubberband.git", Kind: kindMeson,
			Flags:     "-Dfft=fftw -Dresampler=libsamplerate -Djni=disabled -Dladspa=disabled -Dlv2=disabled -Dvamp=disabled",
			DependsOn: []string{"fftw", "libsamplerate"}},
		{Name: "libdvdcss", Repo: "https://code.videolan.org/videolan/libdvdcss.git", Kind: kindMeson},
		{Name: "libdvdread", Repo: "https://code.videolan.org/videolan/libdvdread.git", Kind: kindMeson,
			DependsOn: []string{"libdvdcss"},
			Output:    &OutputCheck{Dir: "lib/pkgconfig", File: "dvdread.pc"}},
		{Name: "libdvdnav", Repo: "https://code.videolan.org/videolan/libdvdnav.git", Kind: kindMeson,
			DependsOn: []string{"libdvdread"},
			Output:    &OutputCheck{Dir: "lib/pkgconfig", File: "dvdnav.pc"}},
		{Name: "libbluray", Repo: "https://code.videolan.org/videolan/libbluray.git", Kind: kindMeson,
			Flags:     "-Denable_examples=false -Denable_tools=false",
			DependsOn: []string{"libdvdread", "fontconfig", "freetype"}},
		{Name: "libarchive", Repo: "https://github.com/libarchive/libarchive.git", Kind: kindCMake,
			Flags:     "-DENABLE_TEST=OFF -DENABLE_TAR=OFF -DENABLE_CAT=OFF -DENABLE_CPIO=OFF -DZLIB_WINAPI=OFF -DZLIB_USE_STATIC_LIBS=ON -DENABLE_LIBB2=OFF -DENABLE_OPENSSL=OFF",
			DependsOn: []string{"zlib", "bzip2", "xz"}},
	}
}

// validatePackages checks the declaration-order invariant: names are
// unique, every depends_on edge exists and points strictly earlier in
// the list. The orchestrator never sorts; it trusts this order.
func validatePackages(pkgs []*Package) error {
	seen := make(map[string]int, len(pkgs))
	for i, p := range pkgs {
		if p.Name == "" {
			return fmt.Errorf("package at index %d has no name", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate package name %q", p.Name)
		}
		switch p.Kind {
		case kindCMake, kindMeson, kindAutotools, kindMake, kindLuaJIT, kindHeaderOnly:
		default:
			return fmt.Errorf("package %q has unknown build kind %q", p.Name, p.Kind)
		}
		if p.Repo == "" && p.Tarball != nil && (p.Tarball.File == "" || p.Tarball.URL == "") {
			return fmt.Errorf("package %q has an incomplete tarball source", p.Name)
		}
		for _, dep := range p.DependsOn {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("package %q depends on %q which is not declared before it", p.Name, dep)
			}
		}
		seen[p.Name] = i
	}
	return nil
}
