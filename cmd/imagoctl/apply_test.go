package main

import (
	"context"
	"testing"

	"github.com/sre-norns/imago/pkg/imago"
	"github.com/sre-norns/imago/pkg/wyrd"
	"github.com/stretchr/testify/require"
)

func TestReadManifests(t *testing.T) {
	testCases := map[string]struct {
		content     string
		expectKinds []wyrd.Kind
		expectError bool
	}{
		"multi-document": {
			content: `
kind: search
metadata:
  name: cats
  labels:
    team: pets
spec:
  query: cute cats
  limit: 5
---
kind: batch
metadata:
  name: cats-batch
spec:
  aspect: "9:16"
  images:
    - https://example.com/cat.jpg
`,
			expectKinds: []wyrd.Kind{imago.KindSearch, imago.KindBatch},
		},
		"json": {
			content:     `{"kind": "search", "metadata": {"name": "dogs"}, "spec": {"query": "dogs"}}`,
			expectKinds: []wyrd.Kind{imago.KindSearch},
		},
		"empty": {
			content: "",
		},
		"unknown-kind": {
			content:     "kind: scenario\nmetadata:\n  name: x\n",
			expectError: true,
		},
	}

	for name, tc := range testCases {
		test := tc
		t.Run(name, func(t *testing.T) {
			manifests, err := readManifests([]byte(test.content))
			if test.expectError {
				require.ErrorIs(t, err, wyrd.ErrUnknownKind)
				return
			}
			require.NoError(t, err)

			kinds := make([]wyrd.Kind, 0, len(manifests))
			for _, m := range manifests {
				kinds = append(kinds, m.Kind)
			}
			require.Equal(t, len(test.expectKinds), len(kinds))
			if len(kinds) > 0 {
				require.Equal(t, test.expectKinds, kinds)
			}
		})
	}
}

func TestReadManifests_Spec(t *testing.T) {
	manifests, err := readManifests([]byte(`
kind: batch
metadata:
  name: portraits
spec:
  searchId: 4
  select: [0, 2]
  enhance: false
`))
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	require.Equal(t, "portraits", manifests[0].Metadata.Name)

	spec, ok := manifests[0].Spec.(*imago.BatchSpec)
	require.True(t, ok)
	require.Equal(t, wyrd.ResourceID(4), spec.SearchID)
	require.Equal(t, []int{0, 2}, spec.Select)
	require.False(t, spec.IsEnhanced())
}

func TestApplyManifest_NotApplicable(t *testing.T) {
	_, err := applyManifest(context.Background(), nil, wyrd.ResourceManifest{
		TypeMeta: wyrd.TypeMeta{Kind: imago.KindArtifact},
		Spec:     &imago.ArtifactSpec{},
	})
	require.ErrorIs(t, err, ErrNotApplicable)
}
