package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kadirtech/pylock/internal/cache"
	"github.com/kadirtech/pylock/internal/downloader"
	"github.com/kadirtech/pylock/internal/installer"
	"github.com/kadirtech/pylock/internal/lock"
	"github.com/kadirtech/pylock/internal/requirement"
	"github.com/kadirtech/pylock/internal/version"
)

func newSyncCmd() *cobra.Command {
	var (
		locked    bool
		noInstall bool
		pythonBin string
		lockfile  string
		noBinary  bool
		noBuild   bool
		verbose   bool
		cacheDir  string
		noCache   bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Install the packages recorded in the lockfile",
		Long:  "Read the lockfile, optionally verify it is still valid, and install every reachable package's wheel into the detected Python environment.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, syncOpts{
				locked:    locked,
				noInstall: noInstall,
				pythonBin: pythonBin,
				lockfile:  lockfile,
				noBinary:  noBinary,
				noBuild:   noBuild,
				verbose:   verbose,
				cacheDir:  cacheDir,
				noCache:   noCache,
			})
		},
	}

	cmd.Flags().BoolVar(&locked, "locked", false, "fail instead of re-resolving if the lockfile no longer matches project inputs")
	cmd.Flags().BoolVar(&noInstall, "no-install", false, "run the lock checks only; nothing is downloaded or installed")
	cmd.Flags().StringVar(&pythonBin, "python", "python3", "path to the Python interpreter to install into")
	cmd.Flags().StringVar(&lockfile, "lockfile", defaultLockfile, "path to the lockfile to read")
	cmd.Flags().BoolVar(&noBinary, "no-binary", false, "never install from a wheel, always require a source distribution")
	cmd.Flags().BoolVar(&noBuild, "no-build", false, "never fall back to a source distribution, always require a wheel")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "wheel cache directory (default: platform cache dir, or $PYLOCK_CACHE_DIR)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the wheel cache, always re-download")

	return cmd
}

type syncOpts struct {
	locked    bool
	noInstall bool
	pythonBin string
	lockfile  string
	noBinary  bool
	noBuild   bool
	verbose   bool
	cacheDir  string
	noCache   bool
}

func runSync(cmd *cobra.Command, opts syncOpts) error {
	logger := newLogger(opts.verbose)
	ctx, cancel := newContext()
	defer cancel()

	data, err := os.ReadFile(opts.lockfile)
	if err != nil {
		return fmt.Errorf("reading %s: %w", opts.lockfile, err)
	}

	l, err := lock.Deserialize(data)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", opts.lockfile, err)
	}

	env, err := detectEnv(ctx, opts.pythonBin, "", logger)
	if err != nil {
		return err
	}

	// Installing under an interpreter the lock never resolved for would
	// silently produce an unsupported environment.
	if env.FullVersion != "" && !l.RequiresPython.IsUnbounded() {
		v, err := version.Parse(env.FullVersion)
		if err == nil && !l.RequiresPython.Contains(v) {
			return fmt.Errorf("lockfile requires python %s, but %s is %s",
				l.RequiresPython.String(), opts.pythonBin, env.FullVersion)
		}
	}

	tags := buildCompatTags(env)

	if opts.locked {
		pypiClient := newPypiClient(logger)
		oracle := newPypiOracle(pypiClient)

		result := lock.Satisfies(ctx, l, lock.ProjectInputs{
			Members:          l.ManifestValue.Members,
			Requirements:     l.ManifestValue.Requirements,
			Constraints:      l.ManifestValue.Constraints,
			Overrides:        l.ManifestValue.Overrides,
			BuildConstraints: l.ManifestValue.BuildConstraints,
			DependencyGroups: l.ManifestValue.DependencyGroups,
			StaticMetadata:   l.ManifestValue.StaticMetadata,
			DynamicMembers:   l.ManifestValue.DynamicMembers,
			VirtualMembers:   l.ManifestValue.VirtualMembers,
			Tags:             tags,
		}, oracle)

		if result.Kind != lock.Satisfied {
			return fmt.Errorf("lockfile no longer satisfies project inputs: %s", result.String())
		}

		logger.Info("lockfile verified", "packages", len(l.Packages))
	}

	if opts.noInstall {
		fmt.Fprintf(cmd.OutOrStdout(), "verified %d locked packages\n", len(l.Packages))

		return nil
	}

	policy := lock.BuildPolicy{NoBinary: opts.noBinary, NoBuild: opts.noBuild}

	requests := make([]downloader.Request, 0, len(l.Packages))

	for i := range l.Packages {
		pkg := &l.Packages[i]

		if pkg.ID.Source.Kind == requirement.SourceVirtual {
			continue
		}

		dist, err := lock.ToDist(pkg, policy, tags)
		if err != nil {
			if ie, ok := lock.AsInstallabilityError(err); ok {
				return fmt.Errorf("%s is not installable: %s", pkg.ID.Name, ie.Error())
			}

			return fmt.Errorf("reconstructing install artifact for %s: %w", pkg.ID.Name, err)
		}

		if dist.Kind != lock.DistWheel {
			logger.Warn("skipping source distribution, building from source is unsupported", "package", pkg.ID.Name)

			continue
		}

		requests = append(requests, downloader.Request{
			Name:     pkg.ID.Name,
			Version:  pkg.ID.Version,
			URL:      dist.Wheel.URL,
			SHA256:   dist.Wheel.Hash,
			Filename: dist.Wheel.Filename,
		})
	}

	workDir, err := os.MkdirTemp("", "pylock-sync-*")
	if err != nil {
		return fmt.Errorf("creating download directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	dlOpts := []downloader.Option{downloader.WithLogger(logger)}

	if !opts.noCache {
		wheelCache, err := cache.New(cache.WithDir(opts.cacheDir), cache.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("opening wheel cache: %w", err)
		}

		dlOpts = append(dlOpts, downloader.WithCache(wheelCache))
	}

	logger.Info("downloading packages", "count", len(requests))

	results, err := downloader.New(workDir, dlOpts...).Download(ctx, requests)
	if err != nil {
		return fmt.Errorf("downloading packages: %w", err)
	}

	inst := installer.New(env, installer.WithLogger(logger))

	if err := inst.Install(ctx, results); err != nil {
		return fmt.Errorf("installing packages: %w", err)
	}

	var (
		totalSize int64
		cached    int
	)

	for _, r := range results {
		totalSize += r.Size

		if r.Cached {
			cached++
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "installed %d packages (%s, %d from cache)\n", len(results), formatSize(totalSize), cached)

	return nil
}
