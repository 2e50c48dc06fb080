package ingest

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	_ "golang.org/x/image/webp"
)

// decodableImageSize confirms the file header decodes as a registered image
// format and the file is nonempty, returning its byte size. Only the header
// is read; full-pixel decoding would be wasted work here.
func decodableImageSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if fi.Size() == 0 {
		return 0, fmt.Errorf("ingest: %s is empty", filepath.Base(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if _, _, err := image.DecodeConfig(f); err != nil {
		return 0, fmt.Errorf("ingest: decode %s: %w", filepath.Base(path), err)
	}
	return fi.Size(), nil
}
