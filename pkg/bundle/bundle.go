// Package bundle packs processed images into a single zip archive
package bundle

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
)

const (
	ArchiveName     = "processed_images.zip"
	ArchiveMimeType = "application/zip"
)

// EntryName of the n-th image in an archive, counting from 1
func EntryName(n int) string {
	return fmt.Sprintf("image_%d.jpg", n)
}

// Archive writes images as deflated entries image_1.jpg..image_N.jpg, in the given order
func Archive(images [][]byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, images); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func Write(w io.Writer, images [][]byte) error {
	zw := zip.NewWriter(w)
	for i, img := range images {
		entry, err := zw.CreateHeader(&zip.FileHeader{
			Name:   EntryName(i + 1),
			Method: zip.Deflate,
		})
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", EntryName(i+1), err)
		}
		if _, err := entry.Write(img); err != nil {
			return fmt.Errorf("failed to write %s: %w", EntryName(i+1), err)
		}
	}

	return zw.Close()
}

// List returns entry names of an archive in stored order
func List(data []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names, nil
}

// Extract returns the content of every entry in stored order
func Extract(data []byte) ([][]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	result := make([][]byte, 0, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
		result = append(result, content)
	}

	return result, nil
}
