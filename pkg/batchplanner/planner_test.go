package batchplanner

import (
	"context"
	"testing"

	"github.com/kadirpekel/noface/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type fakeTracker struct {
	ready    []string
	comments map[string][]string
}

func (f *fakeTracker) ReadyIssues(_ context.Context) ([]string, error) {
	return f.ready, nil
}

func (f *fakeTracker) Comments(_ context.Context, id string) ([]string, error) {
	return f.comments[id], nil
}

type fakeStore struct {
	manifests map[string]*model.Manifest
	batches   [][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{manifests: make(map[string]*model.Manifest)}
}

func (f *fakeStore) SetManifest(id string, m *model.Manifest) { f.manifests[id] = m }
func (f *fakeStore) GetManifest(id string) *model.Manifest    { return f.manifests[id] }

func (f *fakeStore) IssuesConflict(a, b string) bool {
	ma, mb := f.manifests[a], f.manifests[b]
	return ma.Conflicts(mb)
}

func (f *fakeStore) ClearPendingBatches() { f.batches = nil }

func (f *fakeStore) AddBatch(issueIDs []string) int {
	f.batches = append(f.batches, issueIDs)
	return len(f.batches)
}

func TestParseManifestMarker(t *testing.T) {
	comment := "some notes\nMANIFEST: primary=[a.go, b.go] read=[c.go] forbidden=[d.go]\nmore notes"
	m, ok := parseManifest(comment)
	require.True(t, ok)
	assert.Equal(t, []string{"a.go", "b.go"}, m.PrimaryFiles)
	assert.Equal(t, []string{"c.go"}, m.ReadFiles)
	assert.Equal(t, []string{"d.go"}, m.ForbiddenFiles)
}

func TestParseManifestRequiresPrimaryFiles(t *testing.T) {
	_, ok := parseManifest("MANIFEST: primary=[] read=[a.go] forbidden=[]")
	assert.False(t, ok)
}

func TestParseManifestNoMarker(t *testing.T) {
	_, ok := parseManifest("just a regular comment")
	assert.False(t, ok)
}

func TestLoadManifestsKeepsOnlyManifestsWithPrimaryFiles(t *testing.T) {
	tracker := &fakeTracker{
		ready: []string{"T-1", "T-2"},
		comments: map[string][]string{
			"T-1": {"MANIFEST: primary=[a.go] read=[] forbidden=[]"},
			"T-2": {"no manifest here"},
		},
	}
	store := newFakeStore()
	p := New(tracker, store)

	withManifest, err := p.LoadManifests(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"T-1"}, withManifest)
	assert.NotNil(t, store.GetManifest("T-1"))
	assert.Nil(t, store.GetManifest("T-2"))
}

func TestPlanBatchesGreedyPacking(t *testing.T) {
	store := newFakeStore()
	store.SetManifest("A", &model.Manifest{PrimaryFiles: []string{"x.rs"}})
	store.SetManifest("B", &model.Manifest{PrimaryFiles: []string{"y.rs"}})
	store.SetManifest("C", &model.Manifest{PrimaryFiles: []string{"x.rs"}})
	store.SetManifest("D", &model.Manifest{PrimaryFiles: []string{"z.rs"}})

	p := New(nil, store)
	count := p.PlanBatches([]string{"A", "B", "C", "D"})

	require.Equal(t, 2, count)
	assert.Equal(t, []string{"A", "B", "D"}, store.batches[0])
	assert.Equal(t, []string{"C"}, store.batches[1])
}

func TestPlanBatchesPairwiseDisjointProducesOneBatch(t *testing.T) {
	store := newFakeStore()
	store.SetManifest("A", &model.Manifest{PrimaryFiles: []string{"a.go"}})
	store.SetManifest("B", &model.Manifest{PrimaryFiles: []string{"b.go"}})
	store.SetManifest("C", &model.Manifest{PrimaryFiles: []string{"c.go"}})

	p := New(nil, store)
	count := p.PlanBatches([]string{"A", "B", "C"})
	require.Equal(t, 1, count)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, store.batches[0])
}

func TestPlanBatchesIdenticalManifestsProduceNBatchesOfOne(t *testing.T) {
	store := newFakeStore()
	store.SetManifest("A", &model.Manifest{PrimaryFiles: []string{"shared.go"}})
	store.SetManifest("B", &model.Manifest{PrimaryFiles: []string{"shared.go"}})
	store.SetManifest("C", &model.Manifest{PrimaryFiles: []string{"shared.go"}})

	p := New(nil, store)
	count := p.PlanBatches([]string{"A", "B", "C"})
	require.Equal(t, 3, count)
	for _, b := range store.batches {
		assert.Len(t, b, 1)
	}
}

func TestPlanBatchesDeterministic(t *testing.T) {
	build := func() *fakeStore {
		store := newFakeStore()
		store.SetManifest("A", &model.Manifest{PrimaryFiles: []string{"x.rs"}})
		store.SetManifest("B", &model.Manifest{PrimaryFiles: []string{"y.rs"}})
		store.SetManifest("C", &model.Manifest{PrimaryFiles: []string{"x.rs"}})
		return store
	}

	s1 := build()
	New(nil, s1).PlanBatches([]string{"A", "B", "C"})
	s2 := build()
	New(nil, s2).PlanBatches([]string{"A", "B", "C"})

	assert.Equal(t, s1.batches, s2.batches)
}

// issueCommentFixtures holds sample comment threads, one per issue, as
// they'd appear pulled from the tracker: multi-line bodies with an
// embedded MANIFEST marker plus surrounding chatter.
const issueCommentFixtures = `
T-10:
  - |
    Looked into this, touches only the parser.
    MANIFEST: primary=[parser/lexer.go] read=[parser/token.go] forbidden=[]
T-11:
  - |
    Still scoping this one out, no manifest yet.
  - "bumping priority"
T-12:
  - |
    MANIFEST: primary=[api/handler.go, api/router.go] read=[] forbidden=[api/internal.go]
`

func loadCommentFixtures(t *testing.T) map[string][]string {
	t.Helper()
	var comments map[string][]string
	require.NoError(t, yaml.Unmarshal([]byte(issueCommentFixtures), &comments))
	return comments
}

func TestLoadManifestsFromYAMLFixture(t *testing.T) {
	comments := loadCommentFixtures(t)
	tracker := &fakeTracker{
		ready:    []string{"T-10", "T-11", "T-12"},
		comments: comments,
	}
	store := newFakeStore()
	p := New(tracker, store)

	withManifest, err := p.LoadManifests(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"T-10", "T-12"}, withManifest)

	m10 := store.GetManifest("T-10")
	require.NotNil(t, m10)
	assert.Equal(t, []string{"parser/lexer.go"}, m10.PrimaryFiles)

	m12 := store.GetManifest("T-12")
	require.NotNil(t, m12)
	assert.Equal(t, []string{"api/handler.go", "api/router.go"}, m12.PrimaryFiles)
	assert.Equal(t, []string{"api/internal.go"}, m12.ForbiddenFiles)

	assert.Nil(t, store.GetManifest("T-11"))
}
