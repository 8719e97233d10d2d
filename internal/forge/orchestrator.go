package forge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Orchestrator walks the ordered package list, decides per package
// whether a rebuild is required, performs it, and propagates "this
// package changed" along the declared dependency edges. It then drives
// the two top-level builds (ffmpeg, mpv) with the same staleness rules.
//
// Packages build strictly sequentially: the shared install prefix is
// mutated in place with no locking discipline.
type Orchestrator struct {
	Layout   *Layout
	Exec     runner
	Log      *Logger
	Packages []*Package

	Clean       bool
	SkipUpdates bool
	ForceMPV    bool
	Jobs        int
	March       string
	EnableCUDA  bool

	changed map[string]bool
}

const (
	ffmpegRepo = "https://git.ffmpeg.org/ffmpeg.git"
	mpvRepo    = "https://github.com/mpv-player/mpv.git"
)

func (o *Orchestrator) Run() error {
	if err := validatePackages(o.Packages); err != nil {
		return err
	}
	if o.SkipUpdates {
		if err := o.preflightSources(); err != nil {
			return err
		}
	}

	o.changed = make(map[string]bool)
	bctx := &buildContext{exec: o.Exec, layout: o.Layout, log: o.Log, jobs: o.Jobs}

	for _, p := range o.Packages {
		sourceChanged, err := acquireSource(o.Exec, o.Layout, p, o.SkipUpdates, o.Log)
		if err != nil {
			return err
		}

		o.integrityCheck(p)

		rebuild, reason := o.needsRebuild(p, sourceChanged)
		if !rebuild {
			o.Log.Infof("Skipping %s", p.Name)
			continue
		}

		o.Log.Infof("Building %s (%s)...", p.Name, reason)
		if err := o.buildPackage(bctx, p); err != nil {
			return err
		}
		o.changed[p.Name] = true
	}

	if err := o.buildFFmpeg(bctx); err != nil {
		return err
	}
	if err := o.buildMPV(bctx); err != nil {
		return err
	}
	return o.finalizeBinaries()
}

// preflightSources verifies every source tree exists before any package
// build begins. With updates disabled there is no way to materialize a
// missing tree later, so an absent one must abort the run up front.
func (o *Orchestrator) preflightSources() error {
	names := make([]string, 0, len(o.Packages)+2)
	for _, p := range o.Packages {
		names = append(names, p.Name)
	}
	names = append(names, "ffmpeg", "mpv")
	for _, name := range names {
		if _, err := os.Stat(o.Layout.RepoDir(name)); err != nil {
			return fmt.Errorf("source tree for %s is missing and updates are disabled", name)
		}
	}
	return nil
}

// integrityCheck deletes a package's completion marker when its
// expected installed artifact is gone, forcing the rebuild path.
// A half-cleaned prefix must not be trusted just because a marker
// survived.
func (o *Orchestrator) integrityCheck(p *Package) {
	check := p.outputCheck()
	if check == nil {
		return
	}
	marker := o.Layout.Marker(p.Name)
	if !fileExists(marker) {
		return
	}
	artifact := filepath.Join(o.Layout.Installed, check.Dir, check.File)
	if !fileExists(artifact) {
		os.Remove(marker)
		o.Log.Infof("Forcing rebuild of %s (output file missing)", p.Name)
	}
}

// needsRebuild is the staleness predicate, evaluated in declaration
// order.
func (o *Orchestrator) needsRebuild(p *Package, sourceChanged bool) (bool, string) {
	switch {
	case o.Clean:
		return true, "clean build"
	case !fileExists(o.Layout.Marker(p.Name)):
		return true, "no completion marker"
	case sourceChanged:
		return true, "source changed"
	}
	for _, dep := range p.DependsOn {
		if o.changed[dep] {
			return true, "dependency " + dep + " rebuilt"
		}
	}
	return false, ""
}

// buildPackage performs one rebuild cycle: purge stale artifacts,
// recreate the disposable working copy, dispatch the build adapter,
// repair metadata, sweep dynamic stubs, then write the marker. The
// marker is strictly last; an interrupted build leaves no marker and
// reruns from the purge on the next invocation.
func (o *Orchestrator) buildPackage(b *buildContext, p *Package) error {
	removePackageArtifacts(o.Layout.Installed, p.Name, o.Log)

	buildDir := o.Layout.BuildDir(p.Name)
	if err := removeTree(buildDir); err != nil {
		return fmt.Errorf("failed to clear working copy of %s: %w", p.Name, err)
	}
	if err := copyDir(o.Layout.RepoDir(p.Name), buildDir); err != nil {
		return fmt.Errorf("failed to stage sources of %s: %w", p.Name, err)
	}

	if err := b.dispatch(p, buildDir); err != nil {
		return err
	}

	o.repairMetadata(p)
	sweepImportLibs(o.Layout.Installed, o.Log)

	if err := o.writeMarker(p.Name); err != nil {
		return err
	}
	return nil
}

// repairMetadata patches every pkg-config file the package installed.
// Failures are logged and swallowed: the artifact may still be usable,
// and the next full rebuild rewrites the file anyway.
func (o *Orchestrator) repairMetadata(p *Package) {
	ucrt64 := filepath.Join(o.Layout.Msys2, "ucrt64")
	matches, _ := filepath.Glob(filepath.Join(o.Layout.PkgconfigDir(), "*"+p.Name+"*.pc"))
	for _, pc := range matches {
		if err := patchPC(pc, "-lstdc++ -lm -lpthread", ucrt64); err != nil {
			o.Log.Errorf("Failed to patch %s: %v", pc, err)
			continue
		}
		o.Log.Infof("Patched %s", filepath.Base(pc))
	}
}

func (o *Orchestrator) writeMarker(name string) error {
	f, err := os.Create(o.Layout.Marker(name))
	if err != nil {
		return fmt.Errorf("failed to write completion marker for %s: %w", name, err)
	}
	return f.Close()
}

// anyPackageChanged reports whether this run rebuilt anything; the
// top-level projects link every dependency and must follow any change.
func (o *Orchestrator) anyPackageChanged() bool {
	return len(o.changed) > 0
}

func (o *Orchestrator) buildFFmpeg(b *buildContext) error {
	dir := o.Layout.RepoDir("ffmpeg")
	changed, err := gitSync(o.Exec, ffmpegRepo, "ffmpeg", dir, true, o.SkipUpdates, o.Log)
	if err != nil {
		return err
	}

	marker := o.Layout.Marker("ffmpeg")
	if !o.Clean && fileExists(marker) && !changed && !o.anyPackageChanged() {
		o.Log.Infof("Skipping ffmpeg")
		return nil
	}

	o.Log.Infof("Building ffmpeg...")
	buildDir := o.Layout.BuildDir("ffmpeg")
	if err := removeTree(buildDir); err != nil {
		return err
	}
	if err := copyDir(dir, buildDir); err != nil {
		return err
	}

	pre := o.Layout.Prefix()
	extraLibs := "-lintl -liconv -lpthread -lws2_32 -lwinmm -ld3d11 -ldxgi -luuid -lcrypt32 -lOpenCL -lvulkan-1 -lstdc++"
	extraLdflags := fmt.Sprintf("-L%s/lib -static -fuse-ld=lld", pre)
	var cudaFlags []string
	if o.EnableCUDA {
		o.Log.Infof("Enabling CUDA support in FFmpeg...")
		extraLibs = "-lintl -liconv -lpthread -lws2_32 -lwinmm -ld3d11 -ldxgi -luuid -lcrypt32 -lOpenCL -lvulkan-1 -lcudart -lvsnprintf_shim -ladvapi32 -luser32 -lshlwapi -lgdi32 -lversion -lole32 -lharfbuzz -lfreetype -lfribidi -lfontconfig -lexpat -lbz2 -lstdc++"
		extraLdflags = fmt.Sprintf("-L%s/lib -Wl,-u,_vsnprintf -Wl,-u,_snprintf -static -fuse-ld=lld -Wl,--allow-multiple-definition", pre)
		cudaFlags = []string{"--enable-cuda-nvcc", "--nvccflags=-allow-unsupported-compiler", "--enable-cuda"}
	} else {
		o.Log.Warnf("Disabling CUDA support in FFmpeg (dependencies missing).")
	}

	args := []string{
		"--prefix=" + pre,
		"--enable-static", "--disable-shared",
		"--enable-gpl", "--enable-version3", "--enable-nonfree",
		"--enable-libass", "--enable-libfreetype", "--enable-libfontconfig", "--enable-libfribidi",
		"--enable-libplacebo", "--enable-libdav1d", "--enable-vulkan", "--enable-libshaderc",
		"--enable-ffnvcodec", "--enable-nvdec", "--enable-nvenc",
	}
	args = append(args, cudaFlags...)
	args = append(args,
		"--enable-d3d11va", "--enable-dxva2",
		"--enable-libzimg", "--enable-libsoxr", "--enable-librubberband",
		"--enable-opencl", "--enable-amf", "--enable-libbluray", "--enable-schannel",
		"--enable-ffmpeg", "--enable-ffplay", "--enable-ffprobe",
		"--pkg-config-flags=--static",
		"--extra-libs="+extraLibs,
		fmt.Sprintf("--extra-cflags=-march=%s -ffunction-sections -fdata-sections -I%s/include", o.March, pre),
		"--extra-ldflags="+extraLdflags,
		"--enable-hwaccel=h264_d3d11va,hevc_d3d11va,vp9_d3d11va,av1_d3d11va,h264_nvdec,hevc_nvdec,vp9_nvdec,av1_nvdec,h264_vulkan,hevc_vulkan,vp9_vulkan,av1_vulkan",
		"--enable-lto=thin",
	)

	jobs := fmt.Sprintf("-j%d", o.Jobs)
	if err := b.run(buildDir,
		Command{Prog: "./configure", Args: args},
		Command{Prog: "make", Args: []string{jobs}},
		Command{Prog: "make", Args: []string{"install"}},
	); err != nil {
		return err
	}
	return o.writeMarker("ffmpeg")
}

func (o *Orchestrator) buildMPV(b *buildContext) error {
	dir := o.Layout.RepoDir("mpv")
	changed, err := gitSync(o.Exec, mpvRepo, "mpv", dir, true, o.SkipUpdates, o.Log)
	if err != nil {
		return err
	}

	marker := o.Layout.Marker("mpv")
	if !o.Clean && !o.ForceMPV && fileExists(marker) && !changed && !o.anyPackageChanged() {
		o.Log.Infof("Skipping mpv")
		return nil
	}

	o.importSDL2Headers()

	o.Log.Infof("Building mpv...")
	buildDir := o.Layout.BuildDir("mpv")
	if err := removeTree(buildDir); err != nil {
		return err
	}
	if err := copyDir(dir, buildDir); err != nil {
		return err
	}

	nativeFile, err := o.writeMesonNativeFile(buildDir)
	if err != nil {
		return err
	}

	pre := o.Layout.Prefix()
	args := []string{
		"setup", "build", ".",
		"--prefix=" + pre,
		"--buildtype=release",
		"-Ddefault_library=static",
		"-Dprefer_static=true",
		"-Dlibmpv=false",
		"-Dlua=luajit",
		"-Degl=disabled",
		"-Dvulkan=enabled",
		"-Dd3d11=enabled",
		"-Duchardet=enabled",
		"-Drubberband=enabled",
		"-Dlibarchive=enabled",
		"-Ddvdnav=enabled",
		"-Dlibbluray=enabled",
		"-Dstrip=true",
		"-Db_lto=false",
		"-Dsdl2-audio=enabled",
		"-Dsdl2-video=enabled",
		"-Dsdl2-gamepad=enabled",
		"--pkg-config-path=" + pre + "/lib/pkgconfig",
		"--native-file=" + msysPath(nativeFile),
	}
	if o.EnableCUDA {
		args = append(args, "-Dcuda-hwaccel=enabled")
	}

	jobs := fmt.Sprintf("-j%d", o.Jobs)
	env := []string{fmt.Sprintf("LDFLAGS=-static -Wl,--gc-sections -L%s/lib", pre)}
	if err := b.run(buildDir,
		Command{Prog: "meson", Args: args, Env: env},
		Command{Prog: "ninja", Args: []string{"-C", "build", jobs}, Env: env},
		Command{Prog: "ninja", Args: []string{"-C", "build", "install"}, Env: env},
	); err != nil {
		return err
	}
	return o.writeMarker("mpv")
}

// writeMesonNativeFile emits the native file carrying the full static
// link line; meson drops plain LDFLAGS in too many places to rely on
// the environment alone.
func (o *Orchestrator) writeMesonNativeFile(buildDir string) (string, error) {
	libs := []string{
		"-static",
		"-lintl", "-liconv", "-limagehlp", "-lksuser", "-lmfplat", "-lmfuuid", "-lwmcodecdspuuid",
		"-lshlwapi", "-lole32", "-luuid", "-lversion", "-lwinmm", "-lsetupapi",
		"-ld3d11", "-ldxgi", "-ld3dcompiler", "-ldxguid", "-ldwmapi", "-luxtheme", "-lSDL2",
	}
	quoted := make([]string, len(libs))
	for i, l := range libs {
		quoted[i] = "'" + l + "'"
	}
	list := strings.Join(quoted, ", ")

	path := filepath.Join(buildDir, "mpv_build.ini")
	content := fmt.Sprintf("[built-in options]\nc_link_args = [%s]\ncpp_link_args = [%s]\n", list, list)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// importSDL2Headers copies the system SDL2 headers into the prefix so
// mpv's probe finds them next to everything else.
func (o *Orchestrator) importSDL2Headers() {
	src := filepath.Join(o.Layout.Msys2, "ucrt64", "include", "SDL2")
	dst := filepath.Join(o.Layout.Installed, "include", "SDL2")
	if !fileExists(filepath.Join(src, "SDL.h")) || fileExists(filepath.Join(dst, "SDL.h")) {
		return
	}
	if err := copyDir(src, dst); err != nil {
		o.Log.Warnf("Failed to import SDL2 headers: %v", err)
		return
	}
	o.Log.Infof("FIX: Copied SDL2 headers from msys2 to %s", dst)
}

// finalizeBinaries strips the final executables and prunes everything
// else out of bin/. Strip failures are not build failures.
func (o *Orchestrator) finalizeBinaries() error {
	o.Log.Infof("Organizing binaries...")
	binDir := filepath.Join(o.Layout.Installed, "bin")

	for _, exe := range finalBinaries {
		src := filepath.Join(binDir, exe)
		if !fileExists(src) {
			continue
		}
		o.Log.Infof("Stripping %s...", exe)
		if _, err := o.Exec.Run(Command{Prog: "strip", Args: []string{"-s", msysPath(src)}, Dir: binDir}); err != nil {
			o.Log.Errorf("Failed to strip %s: %v", exe, err)
		}
	}

	allowed := make(map[string]bool, len(finalBinaries))
	for _, f := range finalBinaries {
		allowed[f] = true
	}
	entries, err := os.ReadDir(binDir)
	if err != nil {
		return nil
	}
	o.Log.Infof("Cleaning %s (keeping: %v)...", binDir, finalBinaries)
	for _, e := range entries {
		if allowed[e.Name()] {
			continue
		}
		if err := removeTree(filepath.Join(binDir, e.Name())); err != nil {
			o.Log.Errorf("Failed to remove %s: %v", e.Name(), err)
			continue
		}
		o.Log.Infof("Removed: %s", e.Name())
	}
	return nil
}
