package lock

import (
	"context"
	"fmt"

	"github.com/kadirtech/pylock/internal/requirement"
	"github.com/kadirtech/pylock/internal/resolve"
	"github.com/kadirtech/pylock/internal/wheel"
)

// SatisfiesResultKind enumerates the possible outcomes of checking whether
// a lock still describes a valid resolution for the project's current
// inputs, without re-resolving.
type SatisfiesResultKind int

const (
	Satisfied SatisfiesResultKind = iota
	MismatchedMembers
	MismatchedRequirements
	MismatchedConstraints
	MismatchedOverrides
	MismatchedBuildConstraints
	MismatchedDependencyGroups
	MismatchedStaticMetadata
	MismatchedVirtual
	MismatchedDynamic
	MismatchedVersion
	MismatchedPackageRequirements
	MismatchedPackageProvidesExtra
	MismatchedPackageDependencyGroups
	MissingRoot
	MissingRemoteIndex
	MissingLocalIndex
	MissingVersion
)

func (k SatisfiesResultKind) String() string {
	switch k {
	case Satisfied:
		return "satisfied"
	case MismatchedMembers:
		return "mismatched members"
	case MismatchedRequirements:
		return "mismatched requirements"
	case MismatchedConstraints:
		return "mismatched constraints"
	case MismatchedOverrides:
		return "mismatched overrides"
	case MismatchedBuildConstraints:
		return "mismatched build-constraints"
	case MismatchedDependencyGroups:
		return "mismatched dependency-groups"
	case MismatchedStaticMetadata:
		return "mismatched static metadata"
	case MismatchedVirtual:
		return "mismatched virtual"
	case MismatchedDynamic:
		return "mismatched dynamic"
	case MismatchedVersion:
		return "mismatched version"
	case MismatchedPackageRequirements:
		return "mismatched package requirements"
	case MismatchedPackageProvidesExtra:
		return "mismatched package provides-extra"
	case MismatchedPackageDependencyGroups:
		return "mismatched package dependency-groups"
	case MissingRoot:
		return "missing root"
	case MissingRemoteIndex:
		return "missing remote index"
	case MissingLocalIndex:
		return "missing local index"
	case MissingVersion:
		return "missing version"
	default:
		return "unknown"
	}
}

// SatisfiesResult is the outcome of a satisfies check: Kind names which
// invariant (if any) failed, Package/Detail carry the offending identity
// when the kind is package-scoped.
type SatisfiesResult struct {
	Kind    SatisfiesResultKind
	Package string
	Detail  string
}

func (r SatisfiesResult) ok() bool { return r.Kind == Satisfied }

func (r SatisfiesResult) String() string {
	if r.ok() {
		return "satisfied"
	}

	if r.Package == "" {
		return fmt.Sprintf("%s: %s", r.Kind, r.Detail)
	}

	return fmt.Sprintf("%s (%s): %s", r.Kind, r.Package, r.Detail)
}

func mismatch(kind SatisfiesResultKind, detail string) SatisfiesResult {
	return SatisfiesResult{Kind: kind, Detail: detail}
}

func mismatchPkg(kind SatisfiesResultKind, pkg, detail string) SatisfiesResult {
	return SatisfiesResult{Kind: kind, Package: pkg, Detail: detail}
}

// IndexSet reports whether a remote or local package index is still
// configured and reachable for the current invocation; satisfied by any
// collaborator that tracks configured indexes.
type IndexSet interface {
	HasRemoteIndex() bool
	HasLocalIndex() bool
}

// ProjectInputs is every input the satisfies check compares against the
// recorded Manifest, plus the tags used to validate wheel reachability.
type ProjectInputs struct {
	Members          []string
	Requirements     []requirement.Requirement
	Constraints      []requirement.Requirement
	Overrides        []requirement.Requirement
	BuildConstraints []requirement.Requirement
	DependencyGroups map[string][]requirement.Requirement
	StaticMetadata   map[string]PackageMetadata
	DynamicMembers   map[string]bool
	VirtualMembers   map[string]bool
	Tags             []wheel.Tag
	Indexes          IndexSet
}

// Satisfies reports whether l still describes a valid resolution for
// inputs. A top-level manifest mismatch short-circuits immediately;
// otherwise every package reachable from a workspace-member root is
// walked breadth-first and, for source trees, its metadata is re-read via
// oracle and compared against what the lock recorded.
func Satisfies(ctx context.Context, l *Lock, inputs ProjectInputs, oracle resolve.Oracle) SatisfiesResult {
	if !sameStringSet(l.ManifestValue.Members, inputs.Members) {
		return mismatch(MismatchedMembers, "workspace members differ")
	}

	if !sameRequirementSet(l.ManifestValue.Requirements, inputs.Requirements) {
		return mismatch(MismatchedRequirements, "requirements differ")
	}

	if !sameRequirementSet(l.ManifestValue.Constraints, inputs.Constraints) {
		return mismatch(MismatchedConstraints, "constraints differ")
	}

	if !sameRequirementSet(l.ManifestValue.Overrides, inputs.Overrides) {
		return mismatch(MismatchedOverrides, "overrides differ")
	}

	if !sameRequirementSet(l.ManifestValue.BuildConstraints, inputs.BuildConstraints) {
		return mismatch(MismatchedBuildConstraints, "build-constraints differ")
	}

	if !sameGroupedRequirements(l.ManifestValue.DependencyGroups, inputs.DependencyGroups) {
		return mismatch(MismatchedDependencyGroups, "dependency-groups differ")
	}

	if !sameStaticMetadata(l.ManifestValue.StaticMetadata, inputs.StaticMetadata) {
		return mismatch(MismatchedStaticMetadata, "static metadata differs")
	}

	if inputs.Indexes != nil {
		if !inputs.Indexes.HasRemoteIndex() {
			return mismatch(MissingRemoteIndex, "no remote index is configured")
		}

		if !inputs.Indexes.HasLocalIndex() {
			return mismatch(MissingLocalIndex, "no local index is configured")
		}
	}

	visited := make(map[string]bool)
	queue := make([]string, 0, len(inputs.Members))

	for _, member := range inputs.Members {
		name := member

		root, ok := findMember(l, name)
		if !ok {
			return mismatchPkg(MissingRoot, name, "workspace member is not a root package in the lock")
		}

		wantVirtual := inputs.VirtualMembers[name]
		if root.Virtual != wantVirtual {
			return mismatchPkg(MismatchedVirtual, name, fmt.Sprintf("expected virtual=%v", wantVirtual))
		}

		wantDynamic := inputs.DynamicMembers[name]
		if root.Dynamic != wantDynamic {
			return mismatchPkg(MismatchedDynamic, name, fmt.Sprintf("expected dynamic=%v", wantDynamic))
		}

		queue = append(queue, root.ID.String())
		visited[root.ID.String()] = true
	}

	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]

		pkg, ok := l.packageByKey(key)
		if !ok {
			return mismatchPkg(MissingVersion, key, "dependency graph references an unknown package")
		}

		if res := checkPackage(ctx, l, pkg, oracle); !res.ok() {
			return res
		}

		for _, next := range packageNeighbors(pkg) {
			key := next.String()
			if visited[key] {
				continue
			}

			visited[key] = true

			queue = append(queue, key)
		}
	}

	return SatisfiesResult{Kind: Satisfied}
}

func findMember(l *Lock, name string) (*Package, bool) {
	for i := range l.Packages {
		if l.Packages[i].ID.Name == name {
			return &l.Packages[i], true
		}
	}

	return nil, false
}

func (l *Lock) packageByKey(key string) (*Package, bool) {
	if l.index == nil {
		l.rebuildIndex()
	}

	i, ok := l.index[key]
	if !ok {
		return nil, false
	}

	return &l.Packages[i], true
}

func packageNeighbors(p *Package) []requirement.PackageId {
	var out []requirement.PackageId

	for _, d := range p.Dependencies {
		out = append(out, d.PackageID)
	}

	for _, list := range p.OptionalDependencies {
		for _, d := range list {
			out = append(out, d.PackageID)
		}
	}

	for _, list := range p.DependencyGroups {
		for _, d := range list {
			out = append(out, d.PackageID)
		}
	}

	return out
}

// checkPackage verifies one node: immutable sources (registry, git) are
// trusted once their presence in the lock is established; source trees
// must have their metadata re-read, since the code they point at may have
// changed since the lock was written.
func checkPackage(ctx context.Context, l *Lock, p *Package, oracle resolve.Oracle) SatisfiesResult {
	if !p.ID.Source.IsSourceTree() {
		return SatisfiesResult{Kind: Satisfied}
	}

	meta, err := oracle.MetadataFor(ctx, p.ID)
	if err != nil {
		return mismatchPkg(MissingVersion, p.ID.Name, err.Error())
	}

	if meta.Dynamic != p.Dynamic {
		return mismatchPkg(MismatchedDynamic, p.ID.Name, "source tree's dynamic-ness changed")
	}

	// Dynamic packages carry no locked version; only their requirements
	// are validated, per the "version deliberately absent" rule.
	if !p.Dynamic && p.ID.Version != "" && meta.Version != "" && meta.Version != p.ID.Version {
		return mismatchPkg(MismatchedVersion, p.ID.Name,
			fmt.Sprintf("locked %s, found %s", p.ID.Version, meta.Version))
	}

	if !sameRequirementSet(p.Metadata.RequiresDist, meta.Requires) {
		return mismatchPkg(MismatchedPackageRequirements, p.ID.Name, "requires-dist differs from freshly read metadata")
	}

	if !sameStringSet(p.Metadata.ProvidesExtras, meta.ProvidesExtras) {
		return mismatchPkg(MismatchedPackageProvidesExtra, p.ID.Name, "provides-extras differs from freshly read metadata")
	}

	if !sameGroupedRequirements(p.Metadata.DependencyGroups, meta.DependencyGroups) {
		return mismatchPkg(MismatchedPackageDependencyGroups, p.ID.Name, "dependency-groups differ from freshly read metadata")
	}

	return SatisfiesResult{Kind: Satisfied}
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}

	for _, s := range b {
		seen[s]--
	}

	for _, n := range seen {
		if n != 0 {
			return false
		}
	}

	return true
}

func sameRequirementSet(a, b []requirement.Requirement) bool {
	if len(a) != len(b) {
		return false
	}

	seen := make(map[string]int, len(a))
	for _, r := range a {
		seen[requirementText(r)]++
	}

	for _, r := range b {
		seen[requirementText(r)]--
	}

	for _, n := range seen {
		if n != 0 {
			return false
		}
	}

	return true
}

func sameGroupedRequirements(a, b map[string][]requirement.Requirement) bool {
	if len(a) != len(b) {
		return false
	}

	for group, reqs := range a {
		other, ok := b[group]
		if !ok || !sameRequirementSet(reqs, other) {
			return false
		}
	}

	return true
}

func sameStaticMetadata(a, b map[string]PackageMetadata) bool {
	if len(a) != len(b) {
		return false
	}

	for name, m := range a {
		other, ok := b[name]
		if !ok {
			return false
		}

		if !sameRequirementSet(m.RequiresDist, other.RequiresDist) {
			return false
		}

		if !sameStringSet(m.ProvidesExtras, other.ProvidesExtras) {
			return false
		}

		if !sameGroupedRequirements(m.DependencyGroups, other.DependencyGroups) {
			return false
		}
	}

	return true
}
