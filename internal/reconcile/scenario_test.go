package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// analyzeAndApply runs one full reconcile pass against the in-memory fakes
// and returns the change set, the fakes, and the resulting index.
func analyzeAndApply(t *testing.T, local, remote, last Index) (*ChangeSet, *fakeLocal, *fakeRemote, Index) {
	t.Helper()

	r := New(nil)

	cs, err := r.Analyze(local, remote, last)
	require.NoError(t, err)

	fl, fr := &fakeLocal{}, &fakeRemote{}
	result := r.Apply(context.Background(), cs, fl, fr, last)
	require.Empty(t, result.Errors)

	return cs, fl, fr, result.Index
}

func TestScenario_FreshClone(t *testing.T) {
	remote := Index{
		file("a.txt", "1", "2024-01-01T00:00:00Z"),
		folder("sub"),
		file("sub/b.txt", "2", "2024-01-02T00:00:00Z"),
	}

	cs, fl, fr, idx := analyzeAndApply(t, Index{}, remote, Index{})

	require.Len(t, cs.Entries(ActionAddLocal), 3)
	assert.Equal(t, []string{"sub"}, fl.created)
	assert.Equal(t, []string{"a.txt", "sub/b.txt"}, fr.downloaded)

	byPath, err := idx.ByPath()
	require.NoError(t, err)
	assert.Len(t, byPath, 3)
	assert.Equal(t, "1", byPath["a.txt"].Digest)
	assert.Equal(t, "2", byPath["sub/b.txt"].Digest)
}

func TestScenario_InitialPush(t *testing.T) {
	local := Index{file("x.bin", "9", "2024-01-01T00:00:00Z")}

	_, _, fr, idx := analyzeAndApply(t, local, Index{}, Index{})

	assert.Equal(t, []string{"x.bin"}, fr.uploaded)

	byPath, err := idx.ByPath()
	require.NoError(t, err)
	assert.Equal(t, "9", byPath["x.bin"].Digest)
}

func TestScenario_SimultaneousEdit(t *testing.T) {
	last := Index{file("doc.txt", "1", "2024-01-01T00:00:00Z")}
	local := Index{file("doc.txt", "2", "2024-01-02T00:00:00Z")}
	remote := Index{file("doc.txt", "3", "2024-01-03T00:00:00Z")}

	_, fl, fr, idx := analyzeAndApply(t, local, remote, last)

	localCopy := "doc_CONFLICT2024-01-02T00:00:00Z.txt"
	remoteCopy := "doc_CONFLICT2024-01-03T00:00:00Z.txt"

	require.Len(t, fl.renamed, 1)
	assert.Equal(t, [2]string{"doc.txt", localCopy}, fl.renamed[0])
	require.Len(t, fr.renamed, 1)
	assert.Equal(t, [2]string{"doc.txt", remoteCopy}, fr.renamed[0])

	assert.Equal(t, []string{remoteCopy}, fr.downloaded)
	assert.Equal(t, []string{localCopy}, fr.uploaded)

	byPath, err := idx.ByPath()
	require.NoError(t, err)
	assert.Len(t, byPath, 2)
	assert.NotContains(t, byPath, "doc.txt")
	assert.Equal(t, "2", byPath[localCopy].Digest)
	assert.Equal(t, "3", byPath[remoteCopy].Digest)
}

func TestScenario_DeleteVersusModify(t *testing.T) {
	last := Index{file("r.dat", "4", "2024-01-01T00:00:00Z")}
	remote := Index{file("r.dat", "5", "2024-01-03T00:00:00Z")}

	_, _, fr, idx := analyzeAndApply(t, Index{}, remote, last)

	require.Len(t, fr.renamed, 1)
	assert.Equal(t, [2]string{"r.dat", "r_DELETED.dat"}, fr.renamed[0])
	assert.Equal(t, []string{"r_DELETED.dat"}, fr.downloaded)

	byPath, err := idx.ByPath()
	require.NoError(t, err)
	assert.NotContains(t, byPath, "r.dat")
	assert.Equal(t, "5", byPath["r_DELETED.dat"].Digest)
}

func TestScenario_PureRemoteUpdate(t *testing.T) {
	last := Index{file("p.md", "7", "2024-01-01T00:00:00Z")}
	local := Index{file("p.md", "7", "2024-01-01T00:00:00Z")}
	remote := Index{file("p.md", "8", "2024-01-02T00:00:00Z")}

	_, _, fr, idx := analyzeAndApply(t, local, remote, last)

	assert.Equal(t, []string{"p.md"}, fr.downloaded)

	byPath, err := idx.ByPath()
	require.NoError(t, err)
	assert.Equal(t, "8", byPath["p.md"].Digest)
}

func TestScenario_BothDeleted(t *testing.T) {
	last := Index{file("tmp", "1", "2024-01-01T00:00:00Z")}

	cs, fl, fr, idx := analyzeAndApply(t, Index{}, Index{}, last)

	assert.True(t, cs.IsEmpty())
	assert.Empty(t, fl.deleted)
	assert.Empty(t, fr.deleted)
	assert.Empty(t, idx)
}

func TestScenario_BothAddedSameContent_EntersIndex(t *testing.T) {
	local := Index{file("same.txt", "d1", "2024-01-01T00:00:00Z")}
	remote := Index{{Path: "same.txt", Kind: KindFile, Digest: "d1", DateModified: "2024-01-02T00:00:00Z", ID: "rid", Links: Links{LinkDownload: "https://example/dl"}}}

	cs, _, fr, idx := analyzeAndApply(t, local, remote, Index{})

	assert.True(t, cs.IsEmpty())
	assert.Empty(t, fr.uploaded)
	assert.Empty(t, fr.downloaded)

	byPath, err := idx.ByPath()
	require.NoError(t, err)
	require.Contains(t, byPath, "same.txt")
	assert.Equal(t, "rid", byPath["same.txt"].ID)
}

// A pass over converged state plans nothing, and a second analysis of the
// resulting index stays empty.
func TestScenario_Idempotence(t *testing.T) {
	local := Index{file("a.txt", "1", "2024-01-01T00:00:00Z"), folder("sub")}
	remote := Index{file("a.txt", "1", "2024-01-01T00:00:00Z"), folder("sub")}
	last := Index{file("a.txt", "1", "2024-01-01T00:00:00Z"), folder("sub")}

	cs, err := New(nil).Analyze(local, remote, last)
	require.NoError(t, err)
	assert.True(t, cs.IsEmpty())
}
