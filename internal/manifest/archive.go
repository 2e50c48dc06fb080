package manifest

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// writeArchive bundles the manifest and every canonical image into
// {subjectID}_export.zip in the subject folder. The archive is written to a
// temp name and renamed in, so a failure mid-write never leaves a partial
// zip at the final path.
func (a *Assembler) writeArchive(subjectID, subjectDir, timelineDir, manifestPath string, m *Manifest) (string, error) {
	zipPath := filepath.Join(subjectDir, subjectID+"_export.zip")

	tmp, err := os.CreateTemp(subjectDir, ".a360-zip-*")
	if err != nil {
		return "", fmt.Errorf("manifest: create temp archive: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	zw := zip.NewWriter(tmp)
	if err := addToZip(zw, manifestPath, Filename); err != nil {
		cleanup()
		return "", err
	}
	for _, img := range m.Images {
		src := filepath.Join(timelineDir, img.Filename)
		if err := addToZip(zw, src, img.Filename); err != nil {
			cleanup()
			return "", err
		}
	}
	if err := zw.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("manifest: finalize archive: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", fmt.Errorf("manifest: sync archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("manifest: close archive: %w", err)
	}
	if err := os.Rename(tmpName, zipPath); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("manifest: publish archive: %w", err)
	}
	return zipPath, nil
}

func addToZip(zw *zip.Writer, srcPath, name string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("manifest: archive source %s: %w", name, err)
	}
	defer f.Close()

	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("manifest: archive entry %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("manifest: archive copy %s: %w", name, err)
	}
	return nil
}
