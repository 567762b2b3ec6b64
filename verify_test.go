package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psychopy/osfsync/internal/reconcile"
)

func TestCompareIndices_AllMatch(t *testing.T) {
	last := reconcile.Index{
		{Path: "a.txt", Kind: reconcile.KindFile, Digest: "d1"},
		{Path: "sub", Kind: reconcile.KindFolder},
	}
	local := reconcile.Index{{Path: "a.txt", Kind: reconcile.KindFile, Digest: "d1"}}
	remote := reconcile.Index{{Path: "a.txt", Kind: reconcile.KindFile, Digest: "d1"}}

	report, err := compareIndices(last, local, remote)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Verified)
	assert.Empty(t, report.Mismatches)
}

func TestCompareIndices_DetectsMissingAndMismatch(t *testing.T) {
	last := reconcile.Index{
		{Path: "a.txt", Kind: reconcile.KindFile, Digest: "d1"},
		{Path: "b.txt", Kind: reconcile.KindFile, Digest: "d2"},
		{Path: "c.txt", Kind: reconcile.KindFile, Digest: "d3"},
	}
	local := reconcile.Index{
		{Path: "b.txt", Kind: reconcile.KindFile, Digest: "d2-changed"},
		{Path: "c.txt", Kind: reconcile.KindFile, Digest: "d3"},
	}
	remote := reconcile.Index{
		{Path: "b.txt", Kind: reconcile.KindFile, Digest: "d2"},
	}

	report, err := compareIndices(last, local, remote)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Verified)

	statuses := map[string]string{}
	for _, m := range report.Mismatches {
		statuses[m.Path] = m.Status
	}

	assert.Equal(t, "missing_local", statuses["a.txt"])
	assert.Equal(t, "local_digest_mismatch", statuses["b.txt"])
	assert.Equal(t, "missing_remote", statuses["c.txt"])
}
