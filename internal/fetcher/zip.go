package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// ExtractZIPSingle unpacks an archive that wraps exactly one data file
// and returns the extracted path. Backfill archives are expected to hold
// a single CSV or workbook; anything else is an operator mistake worth
// surfacing rather than guessing about. The entry is written under
// destDir by base name, so path components inside the archive never
// escape it.
func ExtractZIPSingle(zipPath, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var files []*zip.File
	for _, f := range r.File {
		if !f.FileInfo().IsDir() {
			files = append(files, f)
		}
	}
	if len(files) != 1 {
		return "", eris.Errorf("zip: expected exactly 1 file, got %d", len(files))
	}

	src, err := files[0].Open()
	if err != nil {
		return "", eris.Wrap(err, "zip: open entry")
	}
	defer src.Close() //nolint:errcheck

	dest := filepath.Join(destDir, filepath.Base(files[0].Name))
	out, err := os.Create(dest)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, src); err != nil {
		return "", eris.Wrap(err, "zip: write file")
	}
	return dest, nil
}
