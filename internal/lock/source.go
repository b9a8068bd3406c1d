package lock

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/kadirtech/pylock/internal/requirement"
)

// GitSourceKind names which part of a git reference was pinned: a tag, a
// branch, an explicit commit ("rev"), or nothing (the repository's default
// branch at resolve time).
type GitSourceKind int

const (
	GitKindNone GitSourceKind = iota
	GitKindTag
	GitKindBranch
	GitKindRev
)

func (k GitSourceKind) queryKey() string {
	switch k {
	case GitKindTag:
		return "tag"
	case GitKindBranch:
		return "branch"
	case GitKindRev:
		return "rev"
	default:
		return ""
	}
}

// parseGitSourceKind is queryKey's inverse, for converting a
// requirement.Source's string-typed ReferenceKind (which cannot itself be a
// GitSourceKind without an import cycle) back into one.
func parseGitSourceKind(s string) GitSourceKind {
	switch s {
	case "tag":
		return GitKindTag
	case "branch":
		return GitKindBranch
	case "rev":
		return GitKindRev
	default:
		return GitKindNone
	}
}

// EncodeGitURL renders a git source's pinned commit and reference kind
// into the URL, per the format's fragment/query encoding: the commit lives
// in the URL fragment, the reference kind and value live in the query
// string, e.g. "https://example.com/pkg.git?tag=v1.0#abc123...".
func EncodeGitURL(repo, pinnedCommit string, kind GitSourceKind, ref string) (string, error) {
	u, err := url.Parse(repo)
	if err != nil {
		return "", fmt.Errorf("invalid git source url %q: %w", repo, err)
	}

	u.User = nil

	if kind != GitKindNone && ref != "" {
		q := u.Query()
		q.Set(kind.queryKey(), ref)
		u.RawQuery = q.Encode()
	} else {
		u.RawQuery = ""
	}

	u.Fragment = pinnedCommit

	return u.String(), nil
}

// DecodeGitURL parses the fragment/query encoding EncodeGitURL produces
// back into a repository URL, pinned commit, and reference kind/value.
func DecodeGitURL(encoded string) (repo, pinnedCommit string, kind GitSourceKind, ref string, err error) {
	u, err := url.Parse(encoded)
	if err != nil {
		return "", "", GitKindNone, "", fmt.Errorf("invalid git source url %q: %w", encoded, err)
	}

	pinnedCommit = u.Fragment
	u.Fragment = ""

	q := u.Query()
	u.RawQuery = ""
	repo = u.String()

	switch {
	case q.Has("tag"):
		kind, ref = GitKindTag, q.Get("tag")
	case q.Has("branch"):
		kind, ref = GitKindBranch, q.Get("branch")
	case q.Has("rev"):
		kind, ref = GitKindRev, q.Get("rev")
	default:
		kind = GitKindNone
	}

	return repo, pinnedCommit, kind, ref, nil
}

// StripCredentials removes userinfo from a direct or registry source URL,
// per the format's "credentials stripped" rule for both source kinds.
func StripCredentials(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}

	u.User = nil

	return u.String(), nil
}

// sourceTableKind returns the inline-table key the format uses for a
// requirement.Source's kind, e.g. "registry", "git", "url", "path",
// "directory", "editable", "virtual".
func sourceTableKind(k requirement.SourceKind) string {
	switch k {
	case requirement.SourceRegistry:
		return "registry"
	case requirement.SourceGit:
		return "git"
	case requirement.SourceDirect:
		return "url"
	case requirement.SourcePath:
		return "path"
	case requirement.SourceDirectory:
		return "directory"
	case requirement.SourceEditable:
		return "editable"
	case requirement.SourceVirtual:
		return "virtual"
	default:
		return ""
	}
}

func sourceKindFromTable(key string) (requirement.SourceKind, bool) {
	switch strings.ToLower(key) {
	case "registry":
		return requirement.SourceRegistry, true
	case "git":
		return requirement.SourceGit, true
	case "url":
		return requirement.SourceDirect, true
	case "path":
		return requirement.SourcePath, true
	case "directory":
		return requirement.SourceDirectory, true
	case "editable":
		return requirement.SourceEditable, true
	case "virtual":
		return requirement.SourceVirtual, true
	default:
		return 0, false
	}
}

// requiresHash reports the source's tri-state hash discipline: registry
// and direct-URL sources require a hash on every artifact; source trees
// never carry one; nil (either acceptable) is reserved for sources this
// engine does not yet classify definitively.
func requiresHash(k requirement.SourceKind) *bool {
	t, f := true, false

	switch k {
	case requirement.SourceRegistry, requirement.SourceDirect:
		return &t
	case requirement.SourceGit, requirement.SourcePath, requirement.SourceDirectory, requirement.SourceEditable, requirement.SourceVirtual:
		return &f
	default:
		return nil
	}
}
