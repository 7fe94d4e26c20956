package resolver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repath/internal/fetch"
	"repath/internal/prompt"
	"repath/internal/sandbox"
	"repath/internal/trust"
	"repath/internal/uripath"
	"repath/internal/workspace"
)

type fakeOracle struct {
	mu    sync.Mutex
	files map[string]bool
	calls int
}

func newFakeOracle(files ...string) *fakeOracle {
	m := make(map[string]bool, len(files))
	for _, f := range files {
		m[f] = true
	}
	return &fakeOracle{files: m}
}

func (o *fakeOracle) Exists(_ context.Context, uri string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	return o.files[uri]
}

func (o *fakeOracle) totalCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

type fakePrompter struct {
	mu              sync.Mutex
	fileAnswers     []string
	downloadAnswers []prompt.Choice
	chooseDelay     time.Duration

	filePrompts     int
	downloadPrompts int
	shown           []string
}

func (p *fakePrompter) ChooseFile(_ context.Context, _ prompt.FileRequest) (string, error) {
	p.mu.Lock()
	p.filePrompts++
	var ans string
	if len(p.fileAnswers) > 0 {
		ans = p.fileAnswers[0]
		p.fileAnswers = p.fileAnswers[1:]
	}
	delay := p.chooseDelay
	p.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return ans, nil
}

func (p *fakePrompter) ConfirmDownload(_ context.Context, _, _ string) (prompt.Choice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloadPrompts++
	if len(p.downloadAnswers) == 0 {
		return prompt.No, nil
	}
	ans := p.downloadAnswers[0]
	p.downloadAnswers = p.downloadAnswers[1:]
	return ans, nil
}

func (p *fakePrompter) ShowError(msg string) {
	p.mu.Lock()
	p.shown = append(p.shown, msg)
	p.mu.Unlock()
}

func (p *fakePrompter) counts() (files, downloads int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filePrompts, p.downloadPrompts
}

type fakeSource struct {
	mu    sync.Mutex
	data  map[string][]byte
	err   error
	calls int
}

func (s *fakeSource) Fetch(_ context.Context, rawURL string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if d, ok := s.data[rawURL]; ok {
		return d, nil
	}
	return nil, fetch.ErrNotFound
}

func (s *fakeSource) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func writeWorkspaceFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))
}

func TestResolveViaWorkspaceRoot(t *testing.T) {
	host := NewStaticHost()
	host.SetWorkspaceRoot("/w")
	oracle := newFakeOracle("/w/src/a.c")
	r := New(Config{Oracle: oracle, Host: host})

	got, err := r.TranslateArtifactToLocal(context.Background(), Location{ArtifactURI: "src/a.c"})
	require.NoError(t, err)
	assert.Equal(t, "/w/src/a.c", got)
	assert.Equal(t, uint64(1), r.Metrics().Recorded)
}

func TestResolveIsIdempotent(t *testing.T) {
	host := NewStaticHost()
	host.SetWorkspaceRoot("/w")
	oracle := newFakeOracle("/w/src/a.c")
	pr := &fakePrompter{}
	r := New(Config{Oracle: oracle, Host: host, Prompter: pr})
	ctx := context.Background()

	first, err := r.TranslateArtifactToLocal(ctx, Location{ArtifactURI: "src/a.c"})
	require.NoError(t, err)
	checksAfterFirst := oracle.totalCalls()

	second, err := r.TranslateArtifactToLocal(ctx, Location{ArtifactURI: "src/a.c"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, checksAfterFirst, oracle.totalCalls(), "second call must not re-check the filesystem")
	files, downloads := pr.counts()
	assert.Zero(t, files)
	assert.Zero(t, downloads)
	assert.Equal(t, uint64(1), r.Metrics().CacheHits)
}

func TestAbsoluteArtifactResolvesAsItself(t *testing.T) {
	oracle := newFakeOracle("/abs/path/a.c")
	r := New(Config{Oracle: oracle})
	ctx := context.Background()

	got, err := r.TranslateArtifactToLocal(ctx, Location{ArtifactURI: "/abs/path/a.c"})
	require.NoError(t, err)
	assert.Equal(t, "/abs/path/a.c", got)

	got, err = r.TranslateArtifactToLocal(ctx, Location{ArtifactURI: "/abs/other/b.c"})
	require.NoError(t, err)
	assert.Empty(t, got, "missing absolute artifact stays unresolved")
}

func TestInjectedBaseSegmentOverlap(t *testing.T) {
	host := NewStaticHost()
	host.SetInjectedBases("x/y/b/z")
	oracle := newFakeOracle("x/y/b/c/d.e")
	r := New(Config{Oracle: oracle, Host: host})

	got, err := r.TranslateArtifactToLocal(context.Background(), Location{ArtifactURI: "a/b/c/d.e"})
	require.NoError(t, err)
	assert.Equal(t, "x/y/b/c/d.e", got)
}

func TestInjectedBasePlainJoinWins(t *testing.T) {
	host := NewStaticHost()
	host.SetInjectedBases("/base")
	oracle := newFakeOracle("/base/src/a.c")
	r := New(Config{Oracle: oracle, Host: host})

	got, err := r.TranslateArtifactToLocal(context.Background(), Location{ArtifactURI: "src/a.c"})
	require.NoError(t, err)
	assert.Equal(t, "/base/src/a.c", got)
}

func TestPickerTeachesBaseRule(t *testing.T) {
	oracle := newFakeOracle("/projects/project/folder/file.c", "/projects/project/folder/other.c")
	pr := &fakePrompter{fileAnswers: []string{"/projects/project/folder/file.c"}}
	r := New(Config{Oracle: oracle, Prompter: pr})
	ctx := context.Background()

	got, err := r.TranslateArtifactToLocal(ctx, Location{ArtifactURI: "folder/file.c"})
	require.NoError(t, err)
	assert.Equal(t, "/projects/project/folder/file.c", got)
	assert.Equal(t, 1, r.Bases().Len())

	// The learned rule now covers siblings without another prompt.
	sibling, err := r.TranslateArtifactToLocal(ctx, Location{ArtifactURI: "folder/other.c"})
	require.NoError(t, err)
	assert.Equal(t, "/projects/project/folder/other.c", sibling)
	files, _ := pr.counts()
	assert.Equal(t, 1, files)
}

func TestPickerFilenameMismatchIsRejected(t *testing.T) {
	oracle := newFakeOracle("/w/wrong.c")
	pr := &fakePrompter{fileAnswers: []string{"/w/wrong.c", ""}}
	r := New(Config{Oracle: oracle, Prompter: pr})
	ctx := context.Background()

	got, err := r.TranslateArtifactToLocal(ctx, Location{ArtifactURI: "src/a.c"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, r.Bases().Len(), "mismatch must not teach a rule")
	assert.Zero(t, r.Cache().Len())
	pr.mu.Lock()
	shown := len(pr.shown)
	pr.mu.Unlock()
	assert.Equal(t, 1, shown, "mismatch should be surfaced")

	// No negative caching: the next attempt asks again.
	_, err = r.TranslateArtifactToLocal(ctx, Location{ArtifactURI: "src/a.c"})
	require.NoError(t, err)
	files, _ := pr.counts()
	assert.Equal(t, 2, files)
}

func TestPickerCancelLeavesNoTrace(t *testing.T) {
	pr := &fakePrompter{fileAnswers: []string{"", ""}}
	r := New(Config{Oracle: newFakeOracle(), Prompter: pr})
	ctx := context.Background()

	got, err := r.TranslateArtifactToLocal(ctx, Location{ArtifactURI: "src/a.c"})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, r.Cache().Len())
	pr.mu.Lock()
	shown := len(pr.shown)
	pr.mu.Unlock()
	assert.Zero(t, shown, "cancel is not an error")

	_, err = r.TranslateArtifactToLocal(ctx, Location{ArtifactURI: "src/a.c"})
	require.NoError(t, err)
	files, _ := pr.counts()
	assert.Equal(t, 2, files, "cancelled artifact must be asked again")
}

func TestPickerRelocatesAbsoluteArtifact(t *testing.T) {
	oracle := newFakeOracle("/x/y/a/b.c", "/x/y/a/sib.c")
	pr := &fakePrompter{fileAnswers: []string{"/x/y/a/b.c"}}
	r := New(Config{Oracle: oracle, Prompter: pr})
	ctx := context.Background()

	got, err := r.TranslateArtifactToLocal(ctx, Location{ArtifactURI: "/d/e/f/x/y/a/b.c"})
	require.NoError(t, err)
	assert.Equal(t, "/x/y/a/b.c", got)

	// The rule generalizes to other artifacts under the recorded prefix.
	sib, err := r.TranslateArtifactToLocal(ctx, Location{ArtifactURI: "/d/e/f/x/y/a/sib.c"})
	require.NoError(t, err)
	assert.Equal(t, "/x/y/a/sib.c", sib)
	files, _ := pr.counts()
	assert.Equal(t, 1, files)
}

func TestDistinctFilename(t *testing.T) {
	root := t.TempDir()
	writeWorkspaceFile(t, filepath.Join(root, "a", "unique.c"))
	writeWorkspaceFile(t, filepath.Join(root, "b", "dup.c"))
	writeWorkspaceFile(t, filepath.Join(root, "c", "dup.c"))
	writeWorkspaceFile(t, filepath.Join(root, "d", "same.c"))

	idx, err := workspace.NewIndex(workspace.IndexConfig{Root: root})
	require.NoError(t, err)

	host := NewStaticHost()
	host.RegisterArtifacts("deep/path/unique.c", "p1/dup.c", "x/same.c", "y/same.c")
	r := New(Config{Index: idx, Host: host})
	ctx := context.Background()

	got, err := r.TranslateArtifactToLocal(ctx, Location{ArtifactURI: "deep/path/unique.c"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "unique.c"), got)

	// Ambiguous in the workspace.
	got, err = r.TranslateArtifactToLocal(ctx, Location{ArtifactURI: "p1/dup.c"})
	require.NoError(t, err)
	assert.Empty(t, got)

	// Unique file, but two loaded artifacts share the basename.
	got, err = r.TranslateArtifactToLocal(ctx, Location{ArtifactURI: "x/same.c"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOpenDocuments(t *testing.T) {
	host := NewStaticHost()
	host.AddOpenDocument("/open/elsewhere/o.c")
	oracle := newFakeOracle("/open/elsewhere/o.c")
	r := New(Config{Oracle: oracle, Host: host})

	got, err := r.TranslateArtifactToLocal(context.Background(), Location{ArtifactURI: "missing/o.c"})
	require.NoError(t, err)
	assert.Equal(t, "/open/elsewhere/o.c", got)
}

func TestURIBaseIsLastLocalStrategy(t *testing.T) {
	oracle := newFakeOracle("/report/base/src/a.c")
	r := New(Config{Oracle: oracle})
	ctx := context.Background()

	got, err := r.TranslateArtifactToLocal(ctx, Location{ArtifactURI: "src/a.c", URIBase: "/report/base"})
	require.NoError(t, err)
	assert.Equal(t, "/report/base/src/a.c", got)

	// When the workspace root also matches, it wins over the report base.
	host := NewStaticHost()
	host.SetWorkspaceRoot("/w")
	oracle2 := newFakeOracle("/report/base/src/a.c", "/w/src/a.c")
	r2 := New(Config{Oracle: oracle2, Host: host})
	got, err = r2.TranslateArtifactToLocal(ctx, Location{ArtifactURI: "src/a.c", URIBase: "/report/base"})
	require.NoError(t, err)
	assert.Equal(t, "/w/src/a.c", got)
}

func githubLoc(artifact string) Location {
	return Location{
		ArtifactURI: artifact,
		Provenance: []VersionControlProvenance{
			{RepositoryURI: "https://github.com/acme/proj", RevisionID: "rev1"},
		},
	}
}

func TestProvenanceDownload(t *testing.T) {
	box, err := sandbox.New(t.TempDir())
	require.NoError(t, err)
	src := &fakeSource{data: map[string][]byte{
		"https://raw.githubusercontent.com/acme/proj/rev1/src/a.c": []byte("downloaded content"),
	}}
	pr := &fakePrompter{downloadAnswers: []prompt.Choice{prompt.Yes}}
	r := New(Config{
		Oracle:   newFakeOracle(),
		Prompter: pr,
		Source:   src,
		Sandbox:  box,
		Trust:    trust.NewStore(""),
	})

	got, err := r.TranslateArtifactToLocal(context.Background(), githubLoc("src/a.c"))
	require.NoError(t, err)
	require.NotEmpty(t, got)

	raw, err := os.ReadFile(uripath.ToPath(got))
	require.NoError(t, err)
	assert.Equal(t, "downloaded content", string(raw))
	assert.Equal(t, 1, src.fetchCount())
	assert.Equal(t, uint64(1), r.Metrics().Downloads)

	// A fresh resolver over the same sandbox reuses the download without
	// asking or fetching again.
	r2 := New(Config{
		Oracle:   newFakeOracle(),
		Prompter: &fakePrompter{},
		Source:   src,
		Sandbox:  box,
		Trust:    trust.NewStore(""),
	})
	again, err := r2.TranslateArtifactToLocal(context.Background(), githubLoc("src/a.c"))
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Equal(t, 1, src.fetchCount())
	assert.Equal(t, uint64(0), r2.Metrics().Downloads)
}

func TestProvenanceAlwaysPersistsConsent(t *testing.T) {
	trustPath := filepath.Join(t.TempDir(), "hosts.yaml")
	store := trust.NewStore(trustPath)
	require.NoError(t, store.Load())

	box, err := sandbox.New(t.TempDir())
	require.NoError(t, err)
	src := &fakeSource{data: map[string][]byte{
		"https://raw.githubusercontent.com/acme/proj/rev1/src/a.c": []byte("a"),
		"https://raw.githubusercontent.com/acme/proj/rev1/src/b.c": []byte("b"),
	}}
	pr := &fakePrompter{downloadAnswers: []prompt.Choice{prompt.Always}}
	r := New(Config{Oracle: newFakeOracle(), Prompter: pr, Source: src, Sandbox: box, Trust: store})
	ctx := context.Background()

	_, err = r.TranslateArtifactToLocal(ctx, githubLoc("src/a.c"))
	require.NoError(t, err)
	_, err = r.TranslateArtifactToLocal(ctx, githubLoc("src/b.c"))
	require.NoError(t, err)

	_, downloads := pr.counts()
	assert.Equal(t, 1, downloads, "always must suppress the second question")
	assert.Equal(t, 2, src.fetchCount())

	reloaded := trust.NewStore(trustPath)
	require.NoError(t, reloaded.Load())
	assert.True(t, reloaded.IsTrusted("raw.githubusercontent.com"))
}

func TestProvenanceDeclineFallsThroughToPicker(t *testing.T) {
	box, err := sandbox.New(t.TempDir())
	require.NoError(t, err)
	src := &fakeSource{data: map[string][]byte{}}
	pr := &fakePrompter{downloadAnswers: []prompt.Choice{prompt.No}, fileAnswers: []string{""}}
	r := New(Config{Oracle: newFakeOracle(), Prompter: pr, Source: src, Sandbox: box, Trust: trust.NewStore("")})

	got, err := r.TranslateArtifactToLocal(context.Background(), githubLoc("src/a.c"))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, src.fetchCount(), "declined download must not touch the network")
	files, downloads := pr.counts()
	assert.Equal(t, 1, downloads)
	assert.Equal(t, 1, files, "picker still runs after a decline")
}

func TestProvenanceMalformedRepositoryIsAnError(t *testing.T) {
	box, err := sandbox.New(t.TempDir())
	require.NoError(t, err)
	r := New(Config{
		Oracle:  newFakeOracle(),
		Source:  &fakeSource{},
		Sandbox: box,
		Trust:   trust.NewStore(""),
	})

	loc := Location{
		ArtifactURI: "src/a.c",
		Provenance: []VersionControlProvenance{
			{RepositoryURI: "github.com/acme/proj", RevisionID: "rev1"},
		},
	}
	got, err := r.TranslateArtifactToLocal(context.Background(), loc)
	require.Error(t, err)
	assert.Empty(t, got)
}

func TestProvenanceTraversalIsRefused(t *testing.T) {
	box, err := sandbox.New(t.TempDir())
	require.NoError(t, err)
	src := &fakeSource{data: map[string][]byte{}}
	pr := &fakePrompter{fileAnswers: []string{""}}
	r := New(Config{Oracle: newFakeOracle(), Prompter: pr, Source: src, Sandbox: box, Trust: trust.NewStore("")})

	got, err := r.TranslateArtifactToLocal(context.Background(), githubLoc("../../etc/passwd"))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, src.fetchCount(), "traversal must be refused before any fetch")
	files, _ := pr.counts()
	assert.Equal(t, 1, files, "picker still runs after the refusal")
}

func TestNetworkFailureFallsThroughToPicker(t *testing.T) {
	box, err := sandbox.New(t.TempDir())
	require.NoError(t, err)
	src := &fakeSource{err: errors.New("connection reset")}
	pr := &fakePrompter{downloadAnswers: []prompt.Choice{prompt.Yes}, fileAnswers: []string{""}}
	r := New(Config{Oracle: newFakeOracle(), Prompter: pr, Source: src, Sandbox: box, Trust: trust.NewStore("")})

	got, err := r.TranslateArtifactToLocal(context.Background(), githubLoc("src/a.c"))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, uint64(1), r.Metrics().FetchErrors)
	pr.mu.Lock()
	shown := len(pr.shown)
	pr.mu.Unlock()
	assert.Equal(t, 1, shown, "network failure should be surfaced once")
	files, _ := pr.counts()
	assert.Equal(t, 1, files)
}

func TestConcurrentSameURIPromptsOnce(t *testing.T) {
	oracle := newFakeOracle("/w/src/a.c")
	pr := &fakePrompter{fileAnswers: []string{"/w/src/a.c"}, chooseDelay: 30 * time.Millisecond}
	r := New(Config{Oracle: oracle, Prompter: pr})
	ctx := context.Background()

	const n = 8
	results := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.TranslateArtifactToLocal(ctx, Location{ArtifactURI: "src/a.c"})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "/w/src/a.c", results[i])
	}
	files, _ := pr.counts()
	assert.Equal(t, 1, files, "concurrent callers must share one prompt")
}

func TestTranslateLocalToArtifact(t *testing.T) {
	host := NewStaticHost()
	host.SetWorkspaceRoot("/w")
	oracle := newFakeOracle("/w/src/a.c")
	r := New(Config{Oracle: oracle, Host: host})
	ctx := context.Background()

	_, err := r.TranslateArtifactToLocal(ctx, Location{ArtifactURI: "src/a.c"})
	require.NoError(t, err)

	assert.Equal(t, "src/a.c", r.TranslateLocalToArtifact(ctx, "/w/src/a.c"))
	assert.Equal(t, "/nowhere/b.c", r.TranslateLocalToArtifact(ctx, "/nowhere/b.c"),
		"unknown documents come back unchanged")
}

func TestTranslateLocalToArtifactByDistinctFilename(t *testing.T) {
	root := t.TempDir()
	local := filepath.Join(root, "deep", "unique.c")
	writeWorkspaceFile(t, local)
	writeWorkspaceFile(t, filepath.Join(root, "deep", "sib.c"))

	idx, err := workspace.NewIndex(workspace.IndexConfig{Root: root})
	require.NoError(t, err)
	host := NewStaticHost()
	host.RegisterArtifacts("deep/unique.c", "deep/sib.c")
	r := New(Config{Index: idx, Host: host})
	ctx := context.Background()

	got := r.TranslateLocalToArtifact(ctx, local)
	assert.Equal(t, "deep/unique.c", got)

	// The reverse hit taught a base rule; the forward direction now
	// resolves the sibling without prompting.
	sib, err := r.TranslateArtifactToLocal(ctx, Location{ArtifactURI: "deep/sib.c"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "deep", "sib.c"), sib)
}

func TestMappingEventsAreDelivered(t *testing.T) {
	host := NewStaticHost()
	host.SetWorkspaceRoot("/w")
	r := New(Config{Oracle: newFakeOracle("/w/src/a.c"), Host: host})

	events, cancel := r.Cache().Subscribe()
	defer cancel()

	_, err := r.TranslateArtifactToLocal(context.Background(), Location{ArtifactURI: "src/a.c"})
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, "src/a.c", ev.ArtifactURI)
		assert.Equal(t, "/w/src/a.c", ev.LocalURI)
	case <-time.After(2 * time.Second):
		t.Fatalf("no mapping event delivered")
	}
}

func TestEmptyArtifactURI(t *testing.T) {
	r := New(Config{Oracle: newFakeOracle()})
	got, err := r.TranslateArtifactToLocal(context.Background(), Location{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, r.Metrics().ExistenceChecks)
}
