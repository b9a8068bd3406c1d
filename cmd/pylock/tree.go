package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kadirtech/pylock/internal/lock"
	"github.com/kadirtech/pylock/internal/requirement"
)

func newTreeCmd() *cobra.Command {
	var lockfile string

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the dependency tree recorded in the lockfile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTree(cmd, lockfile)
		},
	}

	cmd.Flags().StringVar(&lockfile, "lockfile", defaultLockfile, "path to the lockfile to read")

	return cmd
}

func runTree(cmd *cobra.Command, lockfile string) error {
	data, err := os.ReadFile(lockfile)
	if err != nil {
		return fmt.Errorf("reading %s: %w", lockfile, err)
	}

	l, err := lock.Deserialize(data)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", lockfile, err)
	}

	roots := treeRoots(l)

	seen := make(map[string]bool)

	out := cmd.OutOrStdout()

	for _, root := range roots {
		printDependencyTree(out, l, root, "", seen)
	}

	return nil
}

// treeRoots returns every package that no dependency or optional-dependency
// edge in the lock points at, the entry points for printDependencyTree;
// dependency-group edges are not counted.
func treeRoots(l *lock.Lock) []requirement.PackageId {
	hasParent := make(map[string]bool, len(l.Packages))

	for _, p := range l.Packages {
		for _, d := range p.Dependencies {
			hasParent[d.PackageID.String()] = true
		}

		for _, deps := range p.OptionalDependencies {
			for _, d := range deps {
				hasParent[d.PackageID.String()] = true
			}
		}
	}

	var roots []requirement.PackageId

	for _, p := range l.Packages {
		if !hasParent[p.ID.String()] {
			roots = append(roots, p.ID)
		}
	}

	sort.Slice(roots, func(i, j int) bool { return roots[i].Less(roots[j]) })

	return roots
}

// printDependencyTree prints id and its dependency subtree, following each
// package's Dependencies edges; edge markers are not printed. A package
// already printed on the current path is elided with "(*)" to guard
// against cycles.
func printDependencyTree(out io.Writer, l *lock.Lock, id requirement.PackageId, prefix string, seen map[string]bool) {
	line := prefix + id.Name
	if id.Version != "" {
		line += " " + id.Version
	}

	pkg, ok := l.PackageByID(id)
	if !ok {
		fmt.Fprintln(out, line+" (missing)")

		return
	}

	if seen[id.String()] {
		fmt.Fprintln(out, line+" (*)")

		return
	}

	seen[id.String()] = true

	fmt.Fprintln(out, line)

	deps := append([]lock.Dependency{}, pkg.Dependencies...)

	for _, d := range deps {
		childPrefix := prefix + "  "

		extra := ""
		if len(d.Extras) > 0 {
			extra = fmt.Sprintf(" [%v]", d.Extras)
		}

		if extra != "" {
			fmt.Fprintln(out, childPrefix+"via extras"+extra+":")
			childPrefix += "  "
		}

		printDependencyTree(out, l, d.PackageID, childPrefix, seen)
	}

	delete(seen, id.String())
}
