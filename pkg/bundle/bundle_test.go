package bundle_test

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/sre-norns/imago/pkg/bundle"
	"github.com/stretchr/testify/require"
)

func TestArchive(t *testing.T) {
	testCases := map[string]struct {
		given  [][]byte
		expect []string
	}{
		"empty": {
			given:  nil,
			expect: []string{},
		},
		"single": {
			given:  [][]byte{[]byte("one")},
			expect: []string{"image_1.jpg"},
		},
		"ordered": {
			given:  [][]byte{[]byte("one"), []byte("two"), bytes.Repeat([]byte("three"), 1000)},
			expect: []string{"image_1.jpg", "image_2.jpg", "image_3.jpg"},
		},
	}

	for name, tc := range testCases {
		test := tc
		t.Run(name, func(t *testing.T) {
			data, err := bundle.Archive(test.given)
			require.NoError(t, err)

			names, err := bundle.List(data)
			require.NoError(t, err)
			require.Equal(t, test.expect, names)

			content, err := bundle.Extract(data)
			require.NoError(t, err)
			require.Len(t, content, len(test.given))
			for i := range test.given {
				require.Equal(t, test.given[i], content[i])
			}
		})
	}
}

func TestArchive_Deflated(t *testing.T) {
	data, err := bundle.Archive([][]byte{bytes.Repeat([]byte{0x42}, 4096)})
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	require.Equal(t, zip.Deflate, zr.File[0].Method)
	require.Less(t, zr.File[0].CompressedSize64, zr.File[0].UncompressedSize64)
}

func TestList_NotAnArchive(t *testing.T) {
	_, err := bundle.List([]byte("definitely not a zip"))
	require.Error(t, err)
}
