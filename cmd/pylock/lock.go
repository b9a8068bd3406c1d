package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kadirtech/pylock/internal/lock"
	"github.com/kadirtech/pylock/internal/requirement"
	"github.com/kadirtech/pylock/internal/resolve"
	"github.com/kadirtech/pylock/internal/version"
)

func newLockCmd() *cobra.Command {
	var (
		upgrade       []string
		pythonVersion string
		lockfile      string
		verbose       bool
	)

	cmd := &cobra.Command{
		Use:   "lock [requirements...]",
		Short: "Resolve project requirements into a lockfile",
		Long:  "Resolve the given requirements across every supported Python version and platform, and write the result as a canonical TOML lockfile.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLock(cmd, args, lockOpts{
				upgrade:       upgrade,
				pythonVersion: pythonVersion,
				lockfile:      lockfile,
				verbose:       verbose,
			})
		},
	}

	cmd.Flags().StringSliceVar(&upgrade, "upgrade", nil, "package names to re-resolve to their latest eligible version, ignoring the existing lockfile's preferences")
	cmd.Flags().StringVar(&pythonVersion, "python-version", "", "minimum Python version the lock must support (e.g. 3.11)")
	cmd.Flags().StringVar(&lockfile, "lockfile", defaultLockfile, "path to write the lockfile to")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

type lockOpts struct {
	upgrade       []string
	pythonVersion string
	lockfile      string
	verbose       bool
}

func runLock(cmd *cobra.Command, requirements []string, opts lockOpts) error {
	logger := newLogger(opts.verbose)
	ctx, cancel := newContext()
	defer cancel()

	if len(requirements) == 0 {
		return fmt.Errorf("lock requires at least one requirement")
	}

	rootReqs := make([]requirement.Requirement, 0, len(requirements))
	for _, raw := range requirements {
		req, err := requirement.Parse(raw)
		if err != nil {
			return fmt.Errorf("parsing requirement %q: %w", raw, err)
		}

		rootReqs = append(rootReqs, req)
	}

	rpClause := ">=3.8"
	if opts.pythonVersion != "" {
		rpClause = ">=" + opts.pythonVersion
	}

	rp, err := version.ParseRange(rpClause)
	if err != nil {
		return fmt.Errorf("parsing requires-python %q: %w", rpClause, err)
	}

	pypiClient := newPypiClient(logger)
	oracle := newPypiOracle(pypiClient)

	resolverOpts := resolve.ResolverOptions{
		Mode:         resolve.ModeHighest,
		Prerelease:   resolve.PrereleaseIfNecessary,
		ForkStrategy: resolve.ForkFewest,
	}

	preferences := loadPreferences(opts.lockfile, opts.upgrade, resolverOpts)

	manifest := resolve.ResolverManifest{
		RootRequirements: rootReqs,
		RequiresPython:   rp,
	}

	logger.Info("resolving requirements", "count", len(rootReqs))

	graph, err := resolve.Resolve(ctx, manifest, oracle, resolverOpts, preferences)
	if err != nil {
		return fmt.Errorf("resolution failed: %w", err)
	}

	lockManifest := lock.Manifest{
		Requirements: rootReqs,
	}

	lockOptions := lock.Options{
		Mode:         resolverOpts.Mode,
		Prerelease:   resolverOpts.Prerelease,
		ForkStrategy: resolverOpts.ForkStrategy,
	}

	l, err := lock.Build(graph, rp, lockOptions, lockManifest, oracle.Artifacts())
	if err != nil {
		return fmt.Errorf("building lockfile: %w", err)
	}

	data, err := lock.Serialize(l)
	if err != nil {
		return fmt.Errorf("serializing lockfile: %w", err)
	}

	if err := os.WriteFile(opts.lockfile, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", opts.lockfile, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "resolved %d packages, wrote %s\n", len(l.Packages), opts.lockfile)

	return nil
}

// loadPreferences reads version preferences from an existing lockfile, if
// one is present, so re-locking after a small manifest edit does not churn
// unrelated packages to new versions. Any name in upgrade is excluded so
// the next resolution is free to pick a newer release for it. A lock
// written under options other than current is ignored.
func loadPreferences(lockfile string, upgrade []string, current resolve.ResolverOptions) map[string]string {
	data, err := os.ReadFile(lockfile)
	if err != nil {
		return nil
	}

	existing, err := lock.Deserialize(data)
	if err != nil {
		return nil
	}

	if !existing.OptionsValue.Equal(lock.Options{
		Mode:         current.Mode,
		Prerelease:   current.Prerelease,
		ForkStrategy: current.ForkStrategy,
	}) {
		return nil
	}

	skip := make(map[string]bool, len(upgrade))
	for _, name := range upgrade {
		skip[name] = true
	}

	prefs := make(map[string]string, len(existing.Packages))

	for _, p := range existing.Packages {
		if p.ID.Version == "" || skip[p.ID.Name] {
			continue
		}

		prefs[p.ID.Name] = p.ID.Version
	}

	return prefs
}
