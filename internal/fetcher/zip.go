package fetcher

import (
	"archive/zip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractZIP extracts all files from a ZIP archive to the destination directory.
// Returns the list of extracted file paths.
func ExtractZIP(zipPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var extracted []string
	for _, f := range r.File {
		if skipEntry(f.Name) {
			continue
		}
		path, err := extractZIPEntry(f, destDir)
		if err != nil {
			return extracted, err
		}
		if path != "" {
			extracted = append(extracted, path)
		}
	}

	return extracted, nil
}

// extractOnce extracts zipPath into dest unless an earlier call already did,
// and lists the files under dest.
func extractOnce(zipPath, dest string) ([]string, error) {
	if fi, err := os.Stat(dest); err == nil && fi.IsDir() {
		return listFiles(dest)
	}

	tmp := dest + ".partial"
	if err := os.RemoveAll(tmp); err != nil {
		return nil, eris.Wrap(err, "zip: clear partial extraction")
	}
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return nil, eris.Wrap(err, "zip: create extraction directory")
	}
	if _, err := ExtractZIP(zipPath, tmp); err != nil {
		os.RemoveAll(tmp) //nolint:errcheck
		return nil, err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return nil, eris.Wrap(err, "zip: finalize extraction")
	}
	return listFiles(dest)
}

func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	return files, eris.Wrapf(err, "zip: list %s", dir)
}

// skipEntry reports archive members that are never datasets.
func skipEntry(name string) bool {
	return strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(filepath.Base(name), "._")
}

// extractZIPEntry extracts a single zip.File to the destination directory.
// Returns the extracted file path, or empty string for directories.
func extractZIPEntry(f *zip.File, destDir string) (string, error) {
	// Sanitize against zip slip
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: illegal path %q (zip slip attempt)", f.Name)
	}

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(destPath, 0o755); err != nil {
			return "", eris.Wrap(err, "zip: create directory")
		}
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrap(err, "zip: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrap(err, "zip: open entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return "", eris.Wrap(err, "zip: write file")
	}

	return destPath, nil
}

// datasetKinds lists dataset extensions in order of preference.
var datasetKinds = [][]string{
	{".shp"},
	{".tif", ".tiff"},
	{".asc"},
	{".geojson", ".json"},
}

// locateDataset picks the dataset among extracted files: the single file of
// the most preferred kind present.
func locateDataset(files []string) (string, error) {
	for _, kind := range datasetKinds {
		var found []string
		for _, f := range files {
			ext := strings.ToLower(filepath.Ext(f))
			for _, k := range kind {
				if ext == k {
					found = append(found, f)
				}
			}
		}
		switch len(found) {
		case 0:
			continue
		case 1:
			return found[0], nil
		default:
			sort.Strings(found)
			return "", eris.Errorf("zip: %d %s datasets (%s, ...), select one with #member",
				len(found), kind[0], filepath.Base(found[0]))
		}
	}
	return "", eris.Errorf("zip: no dataset among %d files", len(files))
}
