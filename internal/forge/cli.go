package forge

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
)

// Options holds the parsed command line.
type Options struct {
	Clean       bool
	ForceResume bool
	SkipUpdates bool
	ForceMPV    bool
}

// parseArgs accepts exactly the known flags; anything else is an
// error. There are no positional arguments.
func parseArgs(args []string) (*Options, error) {
	opts := &Options{}
	for _, arg := range args {
		switch arg {
		case "--clean":
			opts.Clean = true
		case "--force-resume":
			// Accepted for compatibility; resumption is the default.
			opts.ForceResume = true
		case "--skip-updates":
			opts.SkipUpdates = true
		case "--force-mpv":
			opts.ForceMPV = true
		default:
			return nil, fmt.Errorf("unknown argument: %s", arg)
		}
	}
	return opts, nil
}

// Main is the program entry point.
func Main() {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		colError.Printf("Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "usage: mpvforge [--clean] [--force-resume] [--skip-updates] [--force-mpv]")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		colWarn.Println("\nInterrupted, stopping...")
		cancel()
		<-sigs
		os.Exit(130)
	}()

	if err := run(ctx, opts); err != nil {
		if ctx.Err() != nil {
			colWarn.Println("Build cancelled.")
			os.Exit(130)
		}
		colError.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *Options) error {
	confPath := os.Getenv("MPVFORGE_CONFIG")
	if confPath == "" {
		confPath = ConfigFile
	}
	cfg, err := loadConfig(confPath)
	if err != nil {
		return err
	}
	initConfig(cfg)

	base := cfg.Values["BASE_DIR"]
	if base == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		base = filepath.Join(cwd, "mpv-build")
	}

	layout, err := newLayout(base)
	if err != nil {
		return err
	}
	log := newLogger(layout.Base)
	defer log.Close()

	start := time.Now()
	log.Infof("mpvforge %s starting in %s", version, layout.Base)

	if opts.Clean {
		log.Infof("Clean build requested, wiping install and working directories")
		for _, dir := range []string{layout.Installed, layout.Working} {
			if err := removeTree(dir); err != nil {
				return fmt.Errorf("failed to clean %s: %w", dir, err)
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
	}

	packages := defaultPackages()
	overrides, err := loadPackageOverrides(filepath.Join(layout.Base, "packages.yaml"))
	if err != nil {
		return err
	}
	packages, err = applyOverrides(packages, overrides)
	if err != nil {
		return err
	}

	env := layout.buildEnv(cfg)
	exec := &Executor{Context: ctx, Shell: layout.Shell(), Env: env, Log: log}

	if err := bootstrapMsys2(exec, layout, opts.SkipUpdates, log); err != nil {
		return err
	}

	cudaPath, haveCUDA := detectCUDA()
	if haveCUDA {
		if err := importMSVCEnv(exec, env, log); err != nil {
			log.Warnf("MSVC import failed, disabling CUDA: %v", err)
			haveCUDA = false
		}
	}
	if haveCUDA {
		if err := importHostCUDA(exec, layout, env, cudaPath, log); err != nil {
			return err
		}
		if err := createVsnprintfShim(exec, layout, log); err != nil {
			return err
		}
	}

	orch := &Orchestrator{
		Layout:      layout,
		Exec:        exec,
		Log:         log,
		Packages:    packages,
		Clean:       opts.Clean,
		SkipUpdates: opts.SkipUpdates,
		ForceMPV:    opts.ForceMPV,
		Jobs:        cfg.Jobs,
		March:       cfg.March,
		EnableCUDA:  haveCUDA,
	}
	if err := orch.Run(); err != nil {
		return err
	}

	publishBinaries(ctx, cfg, layout, log)

	log.Infof("Build finished in %s", time.Since(start).Round(time.Second))
	colSuccess.Printf("Done. Binaries in %s\n", filepath.Join(layout.Installed, "bin"))
	return nil
}
