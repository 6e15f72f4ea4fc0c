package mcp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallkit/recall/internal/embed"
	recallerr "github.com/recallkit/recall/internal/errors"
	"github.com/recallkit/recall/internal/index"
	"github.com/recallkit/recall/internal/search"
	"github.com/recallkit/recall/internal/store"
)

// fixedStatus is a canned StatusProvider.
type fixedStatus struct{ state index.SyncState }

func (f *fixedStatus) Snapshot() index.SyncState { return f.state }

type serverFixture struct {
	root    string
	curated string
	logPath string
	server  *Server
	ranker  *search.Ranker
	guard   *Guard
}

// newServerFixture builds a server over a seeded index: a curated fact
// about the default theme and a daily log about a moved meeting.
func newServerFixture(t *testing.T, status StatusProvider) *serverFixture {
	t.Helper()
	ctx := context.Background()

	f := &serverFixture{root: t.TempDir()}
	f.curated = filepath.Join(f.root, "MEMORY.md")
	f.logPath = filepath.Join(f.root, "2026-08-19.md")

	curatedText := "# Decisions\n\nWe chose dark mode as the default theme after the usability study.\n"
	logText := "# Daily log\n\nThe design meeting moved to Thursday at 14:00.\nFollow up on the onboarding flow.\n"
	require.NoError(t, os.WriteFile(f.curated, []byte(curatedText), 0o644))
	require.NoError(t, os.WriteFile(f.logPath, []byte(logText), 0o644))

	embedder := embed.NewStaticEmbedder()
	s, err := store.NewBuiltinStore(store.BuiltinConfig{VectorDimensions: embedder.Dimensions()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	seed := []struct {
		id, path, kind, content string
	}{
		{"cur-theme", f.curated, "curated-memory", "We chose dark mode as the default theme after the usability study."},
		{"log-meeting", f.logPath, "daily-log", "The design meeting moved to Thursday at 14:00."},
	}
	records := make([]*store.Record, 0, len(seed))
	for _, c := range seed {
		vec, err := embedder.Embed(ctx, c.content)
		require.NoError(t, err)
		records = append(records, &store.Record{
			ChunkID: c.id, SourcePath: c.path, SourceKind: c.kind,
			Content: c.content, StartLine: 3, EndLine: 3,
			ModTime: time.Now(), Vector: vec,
		})
	}
	require.NoError(t, s.Upsert(ctx, records))

	guard, err := NewGuard(GuardConfig{MemoryRoot: f.root, CuratedFile: f.curated})
	require.NoError(t, err)
	f.guard = guard
	f.ranker = search.NewRanker(s, embedder, search.Config{Lexical: true})

	srv, err := NewServer(ServerConfig{
		Ranker:     f.ranker,
		Guard:      guard,
		Status:     status,
		MaxResults: 10,
		MinScore:   0.05,
	})
	require.NoError(t, err)
	f.server = srv
	return f
}

func TestServer_SearchFindsCuratedAndLogFacts(t *testing.T) {
	f := newServerFixture(t, nil)
	ctx := context.Background()

	// A theme question surfaces the curated decision first
	_, out, err := f.server.handleSearch(ctx, nil, SearchInput{Query: "what is the default theme"})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	assert.Equal(t, f.curated, out.Results[0].Path)
	assert.Contains(t, out.Results[0].Snippet, "dark mode")
	assert.Equal(t, "curated-memory", out.Results[0].Source)
	assert.Empty(t, out.Status)

	// A schedule question surfaces the daily log
	_, out, err = f.server.handleSearch(ctx, nil, SearchInput{Query: "when did the design meeting move"})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	assert.Equal(t, f.logPath, out.Results[0].Path)
	assert.Equal(t, "daily-log", out.Results[0].Source)
}

func TestServer_SearchRejectsEmptyQuery(t *testing.T) {
	f := newServerFixture(t, nil)

	_, _, err := f.server.handleSearch(context.Background(), nil, SearchInput{Query: "   "})

	require.Error(t, err)
	assert.True(t, recallerr.HasCode(err, recallerr.ErrCodeQueryEmpty))
}

func TestServer_SearchReportsDegradedBackend(t *testing.T) {
	f := newServerFixture(t, &fixedStatus{state: index.SyncState{
		Degraded: true,
		Backend:  store.BackendSQLite,
	}})

	_, out, err := f.server.handleSearch(context.Background(), nil, SearchInput{Query: "dark mode"})

	require.NoError(t, err)
	assert.Contains(t, out.Status, "fallback")
}

func TestServer_SessionScopeHidesCuratedSnippets(t *testing.T) {
	// Given: a session-scoped server over the same index
	f := newServerFixture(t, nil)
	srv, err := NewServer(ServerConfig{
		Ranker:     f.ranker,
		Guard:      f.guard,
		Scope:      ScopeSession,
		MaxResults: 10,
		MinScore:   0.0,
	})
	require.NoError(t, err)
	ctx := context.Background()

	// When: searching for content that lives in the curated file
	_, out, err := srv.handleSearch(ctx, nil, SearchInput{Query: "dark mode default theme"})

	// Then: no curated snippet leaks, while daily logs stay searchable
	require.NoError(t, err)
	for _, r := range out.Results {
		assert.NotEqual(t, f.curated, r.Path)
	}

	_, out, err = srv.handleSearch(ctx, nil, SearchInput{Query: "design meeting Thursday"})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	assert.Equal(t, f.logPath, out.Results[0].Path)
}

func TestServer_SearchCapsMaxResults(t *testing.T) {
	f := newServerFixture(t, nil)

	_, out, err := f.server.handleSearch(context.Background(), nil,
		SearchInput{Query: "meeting", MaxResults: 1000})

	require.NoError(t, err)
	assert.LessOrEqual(t, len(out.Results), 10)
}

func TestServer_GetReadsRequestedWindow(t *testing.T) {
	f := newServerFixture(t, nil)

	_, out, err := f.server.handleGet(context.Background(), nil,
		GetInput{Path: f.logPath, From: 3, Lines: 1})

	require.NoError(t, err)
	assert.Equal(t, 3, out.From)
	assert.Equal(t, 3, out.To)
	assert.Equal(t, 4, out.TotalLines)
	assert.Equal(t, "The design meeting moved to Thursday at 14:00.", out.Content)
}

func TestServer_GetDefaultsAndClamps(t *testing.T) {
	f := newServerFixture(t, nil)
	long := strings.Repeat("line\n", 600)
	doc := filepath.Join(f.root, "2026-08-22.md")
	require.NoError(t, os.WriteFile(doc, []byte(long), 0o644))
	ctx := context.Background()

	// Default window starts at line 1
	_, out, err := f.server.handleGet(ctx, nil, GetInput{Path: doc})
	require.NoError(t, err)
	assert.Equal(t, 1, out.From)
	assert.Equal(t, DefaultGetLines, out.To)

	// Requests beyond the cap clamp to the maximum window
	_, out, err = f.server.handleGet(ctx, nil, GetInput{Path: doc, Lines: 5000})
	require.NoError(t, err)
	assert.Equal(t, MaxGetLines, out.To-out.From+1)

	// A window past the end returns no content rather than an error
	_, out, err = f.server.handleGet(ctx, nil, GetInput{Path: doc, From: 10000})
	require.NoError(t, err)
	assert.Empty(t, out.Content)
	assert.Equal(t, 600, out.TotalLines)
}

func TestServer_GetDeniesOutsidePaths(t *testing.T) {
	f := newServerFixture(t, nil)
	outside := filepath.Join(t.TempDir(), "secret.md")
	require.NoError(t, os.WriteFile(outside, []byte("secret\n"), 0o644))

	_, _, err := f.server.handleGet(context.Background(), nil, GetInput{Path: outside})

	require.Error(t, err)
	assert.True(t, recallerr.HasCode(err, recallerr.ErrCodePathNotAllowed))
}

func TestWindow_EmptyDocument(t *testing.T) {
	out := window("", 1, 10, DefaultGetLines, MaxGetLines)

	assert.Zero(t, out.TotalLines)
	assert.Empty(t, out.Content)
}
