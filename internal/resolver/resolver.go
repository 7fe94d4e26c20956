// Package resolver maps artifact locations recorded in analysis reports to
// files on the local machine and back. Strategies run in a fixed order from
// cheap lookups to downloads and interactive prompts, and every confirmed
// pair feeds the caches so later lookups stay cheap.
package resolver

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"repath/internal/fetch"
	"repath/internal/mapping"
	"repath/internal/prompt"
	"repath/internal/sandbox"
	"repath/internal/trust"
	"repath/internal/uripath"
	"repath/internal/workspace"
)

type Config struct {
	Cache    *mapping.Cache
	Bases    *mapping.BaseSet
	Oracle   workspace.Oracle
	Index    *workspace.Index
	Host     HostContext
	Prompter prompt.Prompter
	Pending  *prompt.PendingSet
	Source   fetch.Source
	Sandbox  *sandbox.Root
	Trust    *trust.Store
	Logger   *zap.Logger
}

// Resolver owns the ordered resolution strategies. All methods are safe for
// concurrent use; concurrent lookups of the same artifact URI share one
// resolution, so the user is asked about each artifact at most once.
type Resolver struct {
	cache    *mapping.Cache
	bases    *mapping.BaseSet
	oracle   workspace.Oracle
	index    *workspace.Index
	host     HostContext
	prompter prompt.Prompter
	pending  *prompt.PendingSet
	source   fetch.Source
	sandbox  *sandbox.Root
	trust    *trust.Store
	log      *zap.Logger

	group   singleflight.Group
	metrics metrics
}

func New(cfg Config) *Resolver {
	if cfg.Cache == nil {
		cfg.Cache = mapping.NewCache(mapping.DefaultCacheConfig())
	}
	if cfg.Bases == nil {
		cfg.Bases = mapping.NewBaseSet()
	}
	if cfg.Oracle == nil {
		cfg.Oracle = workspace.FSOracle{}
	}
	if cfg.Host == nil {
		cfg.Host = NewStaticHost()
	}
	if cfg.Pending == nil {
		cfg.Pending = prompt.NewPendingSet()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Resolver{
		cache:    cfg.Cache,
		bases:    cfg.Bases,
		oracle:   cfg.Oracle,
		index:    cfg.Index,
		host:     cfg.Host,
		prompter: cfg.Prompter,
		pending:  cfg.Pending,
		source:   cfg.Source,
		sandbox:  cfg.Sandbox,
		trust:    cfg.Trust,
		log:      cfg.Logger,
	}
}

func (r *Resolver) Cache() *mapping.Cache   { return r.cache }
func (r *Resolver) Bases() *mapping.BaseSet { return r.bases }

// Metrics returns a snapshot of the resolver counters.
func (r *Resolver) Metrics() MetricsSnapshot { return r.metrics.snapshot() }

// PendingURIs lists artifacts currently waiting on user input.
func (r *Resolver) PendingURIs() []string { return r.pending.URIs() }

// TranslateArtifactToLocal resolves one artifact location to a local URI.
// Empty with a nil error means the location stayed unresolved; the only
// error is malformed provenance.
func (r *Resolver) TranslateArtifactToLocal(ctx context.Context, loc Location) (string, error) {
	artifact := strings.TrimSpace(loc.ArtifactURI)
	if artifact == "" {
		return "", nil
	}
	loc.ArtifactURI = artifact

	v, err, _ := r.group.Do(artifact, func() (any, error) {
		return r.resolveOnce(ctx, loc)
	})
	if err != nil {
		return "", err
	}
	local, _ := v.(string)
	return local, nil
}

// TranslateLocalToArtifact reports which artifact URI a local document
// corresponds to, or the input unchanged when unknown. It never prompts.
func (r *Resolver) TranslateLocalToArtifact(_ context.Context, localURI string) string {
	local := strings.TrimSpace(localURI)
	if local == "" {
		return localURI
	}
	if artifact, ok := r.cache.LookupByLocal(local); ok {
		return artifact
	}
	base := uripath.Basename(local)
	if base == "" {
		return localURI
	}
	if r.index != nil {
		p, ok := r.index.DistinctPath(base)
		if !ok || !samePath(p, local) {
			return localURI
		}
	}
	artifact, ok := r.distinctArtifact(base)
	if !ok {
		return localURI
	}
	r.bases.Derive(artifact, local)
	r.record(artifact, local)
	return artifact
}

func (r *Resolver) resolveOnce(ctx context.Context, loc Location) (string, error) {
	notify := newNotifier(r.prompter)

	if local, ok := r.resolveLocal(ctx, loc); ok {
		return local, nil
	}
	local, err := r.tryProvenance(ctx, loc, notify)
	if err != nil {
		return "", err
	}
	if local != "" {
		return local, nil
	}
	if !r.promptForFile(ctx, loc, notify) {
		return "", nil
	}
	// A picked file taught us a base rule; the ordinary strategies now
	// apply it.
	if local, ok := r.resolveLocal(ctx, loc); ok {
		return local, nil
	}
	r.log.Debug("artifact unresolved after prompt", zap.String("artifact", loc.ArtifactURI))
	return "", nil
}

// resolveLocal runs the non-interactive strategies in their fixed order.
func (r *Resolver) resolveLocal(ctx context.Context, loc Location) (string, bool) {
	artifact := loc.ArtifactURI

	if local, ok := r.cache.LookupByArtifact(artifact); ok {
		r.metrics.cacheHits.Add(1)
		return local, true
	}
	r.metrics.cacheMisses.Add(1)

	relative := !uripath.IsAbsolute(artifact)
	if !relative {
		// An absolute URI resolves as itself or not at all here; learned
		// rules below may still relocate it.
		if local, ok := r.probe(ctx, artifact, artifact); ok {
			return local, true
		}
	}
	if relative {
		for _, base := range r.host.InjectedBases() {
			for _, cand := range overlapCandidates(base, artifact) {
				if local, ok := r.probe(ctx, artifact, cand); ok {
					return local, true
				}
			}
		}
		if root := strings.TrimSpace(r.host.WorkspaceRoot()); root != "" {
			if local, ok := r.probe(ctx, artifact, uripath.JoinURI(root, artifact)); ok {
				return local, true
			}
		}
	}
	for _, cand := range r.bases.Apply(artifact) {
		if local, ok := r.probe(ctx, artifact, cand); ok {
			return local, true
		}
	}
	if local, ok := r.tryDistinctFilename(ctx, artifact); ok {
		return local, true
	}
	if local, ok := r.tryOpenDocuments(ctx, artifact); ok {
		return local, true
	}
	if relative {
		if base := strings.TrimSpace(loc.URIBase); base != "" {
			if local, ok := r.probe(ctx, artifact, uripath.JoinURI(base, artifact)); ok {
				return local, true
			}
		}
	}
	return "", false
}

// overlapCandidates joins artifact onto base, preferring plain concatenation
// and then segment-overlap splices: for base x/y/b/z and artifact a/b/c/d.e
// the shared segment b yields x/y/b/c/d.e.
func overlapCandidates(base, artifact string) []string {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil
	}
	var out []string
	seen := make(map[string]struct{})
	add := func(cand string) {
		if cand == "" {
			return
		}
		if _, dup := seen[cand]; dup {
			return
		}
		seen[cand] = struct{}{}
		out = append(out, cand)
	}

	add(uripath.JoinURI(base, artifact))
	baseSegs := uripath.Segments(base)
	artSegs := uripath.Segments(artifact)
	for _, ij := range uripath.CommonIndices(artSegs, baseSegs) {
		i, j := ij[0], ij[1]
		add(strings.Join(append(slices.Clone(baseSegs[:j+1]), artSegs[i+1:]...), "/"))
	}
	return out
}

// probe checks one candidate and records the mapping on success.
func (r *Resolver) probe(ctx context.Context, artifact, candidate string) (string, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", false
	}
	r.metrics.existenceChecks.Add(1)
	if !r.oracle.Exists(ctx, candidate) {
		return "", false
	}
	r.record(artifact, candidate)
	return candidate, true
}

func (r *Resolver) record(artifact, local string) {
	r.cache.Record(artifact, local)
	r.metrics.recorded.Add(1)
	r.log.Debug("mapping recorded",
		zap.String("artifact", artifact),
		zap.String("local", local))
}

// tryDistinctFilename matches by basename when it is unambiguous on both
// sides: exactly one workspace file and exactly one known artifact carry it.
func (r *Resolver) tryDistinctFilename(ctx context.Context, artifact string) (string, bool) {
	if r.index == nil {
		return "", false
	}
	base := uripath.Basename(artifact)
	if base == "" {
		return "", false
	}
	path, ok := r.index.DistinctPath(base)
	if !ok {
		return "", false
	}
	if r.countArtifactBasename(base) > 1 {
		return "", false
	}
	return r.probe(ctx, artifact, path)
}

func (r *Resolver) countArtifactBasename(base string) int {
	n := 0
	for _, uri := range r.host.KnownArtifacts() {
		if uripath.Basename(uri) == base {
			n++
		}
	}
	return n
}

func (r *Resolver) distinctArtifact(base string) (string, bool) {
	found := ""
	for _, uri := range r.host.KnownArtifacts() {
		if uripath.Basename(uri) != base {
			continue
		}
		if found != "" && found != uri {
			return "", false
		}
		found = uri
	}
	return found, found != ""
}

func (r *Resolver) tryOpenDocuments(ctx context.Context, artifact string) (string, bool) {
	base := uripath.Basename(artifact)
	if base == "" {
		return "", false
	}
	for _, doc := range r.host.OpenDocumentURIs() {
		if uripath.Basename(doc) != base {
			continue
		}
		if local, ok := r.probe(ctx, artifact, doc); ok {
			return local, true
		}
	}
	return "", false
}

// tryProvenance fetches the artifact from its version-control origin into
// the sandbox. Relative artifact paths only; the destination is validated
// before any consent question or network traffic.
func (r *Resolver) tryProvenance(ctx context.Context, loc Location, notify *notifier) (string, error) {
	artifact := loc.ArtifactURI
	if len(loc.Provenance) == 0 || r.source == nil || r.sandbox == nil {
		return "", nil
	}
	if uripath.IsAbsolute(artifact) {
		// Raw-content URLs address repository-relative paths only.
		return "", nil
	}

	for _, p := range loc.Provenance {
		rawURL, err := fetch.RawContentURL(p.RepositoryURI, p.RevisionID, artifact)
		if err != nil {
			return "", err
		}

		if _, err := r.sandbox.Resolve(artifact); err != nil {
			r.log.Warn("download destination rejected",
				zap.String("artifact", artifact),
				zap.Error(err))
			// The destination is the same for every origin; give up on
			// downloading but leave the picker available.
			return "", nil
		}
		if local, ok := r.sandbox.Lookup(artifact); ok {
			localURI := uripath.FromPath(local)
			r.bases.Derive(artifact, localURI)
			r.record(artifact, localURI)
			return localURI, nil
		}

		host := fetch.HostOf(rawURL)
		if !r.trust.IsTrusted(host) {
			choice, ok := r.confirmDownload(ctx, host, rawURL)
			if !ok {
				continue
			}
			if choice == prompt.Always {
				if err := r.trust.Add(host); err != nil {
					r.log.Warn("persisting trusted host failed",
						zap.String("host", host), zap.Error(err))
				}
			}
		}

		data, err := r.source.Fetch(ctx, rawURL)
		if err != nil {
			r.metrics.fetchErrors.Add(1)
			r.log.Warn("fetch failed", zap.String("url", rawURL), zap.Error(err))
			notify.show(fmt.Sprintf("download of %s failed: %v", rawURL, err))
			continue
		}
		local, err := r.sandbox.Write(artifact, data, rawURL)
		if err != nil {
			r.log.Warn("sandbox write failed",
				zap.String("artifact", artifact), zap.Error(err))
			notify.show(fmt.Sprintf("saving %s failed: %v", artifact, err))
			continue
		}
		r.metrics.downloads.Add(1)
		localURI := uripath.FromPath(local)
		r.bases.Derive(artifact, localURI)
		r.record(artifact, localURI)
		return localURI, nil
	}
	return "", nil
}

func (r *Resolver) confirmDownload(ctx context.Context, host, rawURL string) (prompt.Choice, bool) {
	if r.prompter == nil {
		return prompt.No, false
	}
	r.metrics.promptsShown.Add(1)
	choice, err := r.prompter.ConfirmDownload(ctx, host, rawURL)
	if err != nil || choice == prompt.No {
		return prompt.No, false
	}
	return choice, true
}

// promptForFile asks the user to locate the artifact by hand. It reports
// whether a usable answer arrived; the answer itself lands in the base
// rules, not the cache, so the ordinary strategies confirm it.
func (r *Resolver) promptForFile(ctx context.Context, loc Location, notify *notifier) bool {
	if r.prompter == nil {
		return false
	}
	artifact := loc.ArtifactURI

	tok, outcome := r.pending.Begin(artifact)
	if outcome != nil {
		chosen, err := outcome.Wait(ctx)
		return err == nil && chosen != ""
	}

	r.metrics.promptsShown.Add(1)
	chosen, err := r.prompter.ChooseFile(ctx, prompt.FileRequest{
		ArtifactURI: artifact,
		Ext:         uripath.Ext(artifact),
	})
	if err != nil || strings.TrimSpace(chosen) == "" {
		tok.Finish("")
		return false
	}
	chosen = strings.TrimSpace(chosen)

	if uripath.Basename(chosen) != uripath.Basename(artifact) {
		notify.show(fmt.Sprintf("%s does not match the artifact filename %s",
			uripath.Basename(chosen), uripath.Basename(artifact)))
		tok.Finish("")
		return false
	}
	r.bases.Derive(artifact, chosen)
	tok.Finish(chosen)
	return true
}

// notifier suppresses duplicate user-facing messages within one resolution.
type notifier struct {
	prompter prompt.Prompter
	seen     map[string]struct{}
}

func newNotifier(p prompt.Prompter) *notifier {
	return &notifier{prompter: p, seen: make(map[string]struct{})}
}

func (n *notifier) show(msg string) {
	if n.prompter == nil {
		return
	}
	if _, dup := n.seen[msg]; dup {
		return
	}
	n.seen[msg] = struct{}{}
	n.prompter.ShowError(msg)
}

func samePath(a, b string) bool {
	pa := uripath.ToPath(a)
	pb := uripath.ToPath(b)
	if uripath.CaseInsensitivePlatform() {
		return strings.EqualFold(pa, pb)
	}
	return pa == pb
}
