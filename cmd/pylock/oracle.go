package main

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kadirtech/pylock/internal/lock"
	"github.com/kadirtech/pylock/internal/marker"
	"github.com/kadirtech/pylock/internal/normalize"
	"github.com/kadirtech/pylock/internal/pypi"
	"github.com/kadirtech/pylock/internal/requirement"
	"github.com/kadirtech/pylock/internal/resolve"
	"github.com/kadirtech/pylock/internal/wheel"
)

// pypiOracle adapts internal/pypi's JSON-API client to internal/resolve's
// Oracle contract, caching every per-version response it fetches so the
// artifacts it already downloaded as metadata can be reused to build the
// lockfile's sdist/wheel listing without a second round trip.
type pypiOracle struct {
	client pypi.Client

	mu    sync.Mutex
	cache map[string]*pypi.PackageInfo // "name@version" -> response
}

func newPypiOracle(client pypi.Client) *pypiOracle {
	return &pypiOracle{client: client, cache: make(map[string]*pypi.PackageInfo)}
}

// Candidates lists every released version of name, via the package-level
// PyPI endpoint, which returns every release's artifact listing in one
// request.
func (o *pypiOracle) Candidates(ctx context.Context, name string) ([]resolve.Candidate, error) {
	info, err := o.client.GetPackage(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("listing candidates for %s: %w", name, err)
	}

	versions := make([]string, 0, len(info.Releases))
	for v := range info.Releases {
		versions = append(versions, v)
	}

	sort.Strings(versions)

	out := make([]resolve.Candidate, 0, len(versions))

	for _, v := range versions {
		out = append(out, resolve.Candidate{
			Version:     v,
			Source:      requirement.Source{Kind: requirement.SourceRegistry},
			PublishedAt: earliestUploadTime(info.Releases[v]),
		})
	}

	return out, nil
}

// MetadataFor fetches a specific version's requires_dist, caching the
// full response so Artifacts can reconstruct wheel/sdist entries later
// without refetching.
func (o *pypiOracle) MetadataFor(ctx context.Context, id requirement.PackageId) (resolve.Metadata, error) {
	info, err := o.fetch(ctx, id.Name, id.Version)
	if err != nil {
		return resolve.Metadata{}, fmt.Errorf("fetching metadata for %s==%s: %w", id.Name, id.Version, err)
	}

	reqs, extras, err := parseRequiresDist(info.Info.RequiresDist)
	if err != nil {
		return resolve.Metadata{}, err
	}

	return resolve.Metadata{Requires: reqs, ProvidesExtras: extras}, nil
}

func (o *pypiOracle) fetch(ctx context.Context, name, version string) (*pypi.PackageInfo, error) {
	key := normalize.Name(name) + "@" + version

	o.mu.Lock()
	if info, ok := o.cache[key]; ok {
		o.mu.Unlock()

		return info, nil
	}
	o.mu.Unlock()

	info, err := o.client.GetPackageVersion(ctx, name, version)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.cache[key] = info
	o.mu.Unlock()

	return info, nil
}

// Artifacts builds the PackageId -> PackageArtifacts map lock.Build needs,
// from every response this oracle has already cached while resolving.
func (o *pypiOracle) Artifacts() map[string]lock.PackageArtifacts {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[string]lock.PackageArtifacts, len(o.cache))

	for _, info := range o.cache {
		id := requirement.PackageId{
			Name:    normalize.Name(info.Info.Name),
			Version: info.Info.Version,
			Source:  requirement.Source{Kind: requirement.SourceRegistry},
		}

		var art lock.PackageArtifacts

		for _, u := range info.URLs {
			ut := parseUploadTime(u.UploadTimeISO)

			switch u.PackageType {
			case "bdist_wheel":
				parsed, err := wheel.ParseFilename(u.Filename)
				if err != nil {
					continue
				}

				art.Wheels = append(art.Wheels, lock.WheelArtifact{
					Entry: lock.Wheel{
						URL:        u.URL,
						Filename:   u.Filename,
						Hash:       u.Digests.SHA256,
						Size:       u.Size,
						UploadTime: ut,
					},
					Parsed: parsed,
				})
			case "sdist":
				art.Sdist = &lock.Sdist{
					URL:        u.URL,
					Hash:       u.Digests.SHA256,
					Size:       u.Size,
					UploadTime: ut,
				}
			}
		}

		out[id.String()] = art
	}

	return out
}

func earliestUploadTime(urls []pypi.URL) time.Time {
	var best time.Time

	for _, u := range urls {
		t := parseUploadTime(u.UploadTimeISO)
		if t.IsZero() {
			continue
		}

		if best.IsZero() || t.Before(best) {
			best = t
		}
	}

	return best
}

func parseUploadTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}

	return t
}

// parseRequiresDist parses PyPI's requires_dist strings into requirements,
// and separately collects the set of extras they gate on (the
// `extra == "..."` marker clauses), approximating provides_extras, which
// the PyPI JSON API does not expose directly.
func parseRequiresDist(raw []string) ([]requirement.Requirement, []string, error) {
	reqs := make([]requirement.Requirement, 0, len(raw))

	seenExtras := make(map[string]bool)

	var extras []string

	for _, r := range raw {
		parsed, err := requirement.Parse(r)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing requires_dist entry %q: %w", r, err)
		}

		reqs = append(reqs, parsed)

		for _, e := range marker.Extras(parsed.Marker) {
			if !seenExtras[e] {
				seenExtras[e] = true

				extras = append(extras, e)
			}
		}
	}

	sort.Strings(extras)

	return reqs, extras, nil
}
