package fetcher

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestZIP(t *testing.T, files map[string]string) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "test.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return zipPath
}

func TestExtractZIP_MultiFile(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"tracts.shp":        "shp",
		"tracts.dbf":        "dbf",
		"__MACOSX/._tracts": "junk",
		"docs/readme.txt":   "hello",
	})

	destDir := t.TempDir()
	extracted, err := ExtractZIP(zipPath, destDir)
	require.NoError(t, err)
	assert.Len(t, extracted, 3)

	data, err := os.ReadFile(filepath.Join(destDir, "docs", "readme.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.NoDirExists(t, filepath.Join(destDir, "__MACOSX"))
}

func TestExtractZIP_ZipSlipPrevention(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{"../../../etc/passwd": "malicious"})

	_, err := ExtractZIP(zipPath, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zip slip")
}

func TestExtractZIP_InvalidArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notazip.zip")
	require.NoError(t, os.WriteFile(path, []byte("this is not a zip"), 0o644))

	_, err := ExtractZIP(path, t.TempDir())
	require.Error(t, err)
}

func TestExtractOnce_ReusesExtraction(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{"pop.asc": "grid"})
	dest := filepath.Join(t.TempDir(), "extracted", "pop")

	files, err := extractOnce(zipPath, dest)
	require.NoError(t, err)
	require.Len(t, files, 1)

	// A second call lists the existing directory without the archive.
	require.NoError(t, os.Remove(zipPath))
	again, err := extractOnce(zipPath, dest)
	require.NoError(t, err)
	assert.Equal(t, files, again)
	assert.NoDirExists(t, dest+".partial")
}

func TestExtractOnce_FailureLeavesNothing(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{"../evil.tif": "x"})
	dest := filepath.Join(t.TempDir(), "out")

	_, err := extractOnce(zipPath, dest)
	require.Error(t, err)
	assert.NoDirExists(t, dest)
	assert.NoDirExists(t, dest+".partial")
}

func TestLocateDataset(t *testing.T) {
	tests := []struct {
		name    string
		files   []string
		want    string
		wantErr string
	}{
		{"shapefile wins", []string{"a/t.dbf", "a/t.shp", "a/t.shx", "a/preview.tif"}, "a/t.shp", ""},
		{"geotiff", []string{"sar.TIF", "sar.tfw"}, "sar.TIF", ""},
		{"ascii grid", []string{"pop.asc", "pop.prj"}, "pop.asc", ""},
		{"geojson", []string{"regions.geojson", "notes.txt"}, "regions.geojson", ""},
		{"ambiguous", []string{"b.shp", "a.shp"}, "", "2 .shp datasets (a.shp"},
		{"nothing", []string{"readme.txt"}, "", "no dataset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := locateDataset(tt.files)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
