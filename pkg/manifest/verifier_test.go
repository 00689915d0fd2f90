package manifest

import (
	"context"
	"math"
	"testing"

	"github.com/kadirpekel/noface/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVCS struct {
	changed  []string
	restored []string
}

func (f *fakeVCS) ChangedPaths(_ context.Context) ([]string, error) {
	return f.changed, nil
}

func (f *fakeVCS) RestorePath(_ context.Context, path string) error {
	f.restored = append(f.restored, path)
	return nil
}

func TestVerifyCompliantSingleIssueSuccess(t *testing.T) {
	vcs := &fakeVCS{}
	v := New(vcs)

	baseline, err := v.CaptureBaseline(context.Background())
	require.NoError(t, err)
	assert.Empty(t, baseline)

	vcs.changed = []string{"src/a.rs"}
	m := &model.Manifest{PrimaryFiles: []string{"src/a.rs"}}

	result, err := v.Verify(context.Background(), m, baseline)
	require.NoError(t, err)
	assert.True(t, result.Compliant)
	assert.Equal(t, []string{"src/a.rs"}, result.FilesActuallyTouched)
	assert.Empty(t, result.ForbiddenFilesTouched)
	assert.Empty(t, result.UnauthorizedFiles)
	assert.Equal(t, 1.0, result.Accuracy)
}

func TestVerifyForbiddenFileViolation(t *testing.T) {
	vcs := &fakeVCS{changed: []string{}}
	v := New(vcs)
	baseline, err := v.CaptureBaseline(context.Background())
	require.NoError(t, err)

	vcs.changed = []string{"src/a.rs", "src/main.rs"}
	m := &model.Manifest{
		PrimaryFiles:   []string{"src/a.rs"},
		ForbiddenFiles: []string{"src/main.rs"},
	}

	result, err := v.Verify(context.Background(), m, baseline)
	require.NoError(t, err)
	assert.False(t, result.Compliant)
	assert.Equal(t, []string{"src/main.rs"}, result.ForbiddenFilesTouched)
	assert.Empty(t, result.UnauthorizedFiles)

	require.NoError(t, v.RollbackFiles(context.Background(), result))
	assert.Equal(t, []string{"src/main.rs"}, vcs.restored)
}

func TestVerifyUnauthorizedFile(t *testing.T) {
	vcs := &fakeVCS{changed: []string{"src/sneaky.rs"}}
	v := New(vcs)
	m := &model.Manifest{PrimaryFiles: []string{"src/a.rs"}}

	result, err := v.Verify(context.Background(), m, map[string]bool{})
	require.NoError(t, err)
	assert.False(t, result.Compliant)
	assert.Equal(t, []string{"src/sneaky.rs"}, result.UnauthorizedFiles)
}

func TestVerifyNoManifestIsTriviallyCompliant(t *testing.T) {
	vcs := &fakeVCS{changed: []string{"anything.go"}}
	v := New(vcs)
	result, err := v.Verify(context.Background(), nil, map[string]bool{})
	require.NoError(t, err)
	assert.True(t, result.Compliant)
	assert.Empty(t, result.ForbiddenFilesTouched)
	assert.Empty(t, result.UnauthorizedFiles)
}

func TestVerifyBaselineSubtractsPreexistingChanges(t *testing.T) {
	vcs := &fakeVCS{changed: []string{"dirty.go"}}
	v := New(vcs)
	baseline, err := v.CaptureBaseline(context.Background())
	require.NoError(t, err)
	assert.True(t, baseline["dirty.go"])

	// Agent makes no further changes.
	m := &model.Manifest{PrimaryFiles: []string{"dirty.go"}}
	result, err := v.Verify(context.Background(), m, baseline)
	require.NoError(t, err)
	assert.True(t, result.Compliant)
	assert.Empty(t, result.FilesActuallyTouched)
}

func TestVerifyEmptyBaselineEmptyChangesCompliant(t *testing.T) {
	vcs := &fakeVCS{}
	v := New(vcs)
	m := &model.Manifest{PrimaryFiles: []string{"x.go"}}
	result, err := v.Verify(context.Background(), m, map[string]bool{})
	require.NoError(t, err)
	assert.True(t, result.Compliant)
	assert.Empty(t, result.FilesActuallyTouched)
	assert.Empty(t, result.UnauthorizedFiles)
}

func TestAccuracyUndefinedWhenBothEmpty(t *testing.T) {
	vcs := &fakeVCS{}
	v := New(vcs)
	m := &model.Manifest{PrimaryFiles: []string{}}
	result, err := v.Verify(context.Background(), m, map[string]bool{})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(result.Accuracy))
}
