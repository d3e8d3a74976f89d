package ltx

import (
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// ltxBin returns the path of the reference ltx binary, or skips the test.
// Pipelines install the pinned release and export LTX_BIN before running
// these.
func ltxBin(t *testing.T) string {
	t.Helper()
	bin := os.Getenv("LTX_BIN")
	if bin == "" {
		t.Skip("LTX_BIN not set, skipping cross-implementation tests")
	}
	return bin
}

// createFixtureDB builds a real SQLite database with a handful of pages.
func createFixtureDB(t *testing.T, path string) {
	t.Helper()

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`PRAGMA page_size = 4096`)
	require.NoError(t, err)
	_, err = db.Exec(`PRAGMA journal_mode = DELETE`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY, body BLOB)`)
	require.NoError(t, err)

	for i := 0; i < 64; i++ {
		_, err = db.Exec(`INSERT INTO t (body) VALUES (?)`, []byte(fmt.Sprintf("row %d padding padding padding", i)))
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())
}

func runLTX(t *testing.T, bin string, args ...string) string {
	t.Helper()
	cmd := exec.CommandContext(t.Context(), bin, args...)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "ltx %v: %s", args, out)
	return string(out)
}

func TestCompatReferenceApply(t *testing.T) {
	bin := ltxBin(t)

	for _, compress := range []bool{false, true} {
		name := "Uncompressed"
		if compress {
			name = "LZ4"
		}
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			dbPath := filepath.Join(dir, "fixture.db")
			createFixtureDB(t, dbPath)

			ltxPath := filepath.Join(dir, "fixture.ltx")
			f, err := os.Create(ltxPath)
			require.NoError(t, err)
			_, _, err = EncodeDB(f, dbPath, compress)
			require.NoError(t, err)
			require.NoError(t, f.Close())

			// The reference implementation must accept our snapshot and
			// reconstruct the database byte for byte.
			restoredPath := filepath.Join(dir, "restored.db")
			runLTX(t, bin, "apply", "-db", restoredPath, ltxPath)

			want, err := os.ReadFile(dbPath)
			require.NoError(t, err)
			got, err := os.ReadFile(restoredPath)
			require.NoError(t, err)
			require.Equal(t, want, got)
		})
	}
}

func TestCompatReferenceEncode(t *testing.T) {
	bin := ltxBin(t)

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "fixture.db")
	createFixtureDB(t, dbPath)

	// Snapshots produced by the reference implementation must decode and
	// apply cleanly here.
	ltxPath := filepath.Join(dir, "fixture.ltx")
	runLTX(t, bin, "encode-db", "-o", ltxPath, dbPath)

	f, err := os.Open(ltxPath)
	require.NoError(t, err)
	defer f.Close()
	hdr, trailer, err := Verify(f)
	require.NoError(t, err)
	require.True(t, hdr.IsSnapshot())

	restoredPath := filepath.Join(dir, "restored.db")
	pos, err := ApplyLTX(restoredPath, []string{ltxPath})
	require.NoError(t, err)
	require.Equal(t, trailer.PostApplyChecksum, pos.PostApplyChecksum)

	want, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	got, err := os.ReadFile(restoredPath)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestCompatReferenceChecksum(t *testing.T) {
	bin := ltxBin(t)

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "fixture.db")
	createFixtureDB(t, dbPath)

	want, err := ChecksumDB(dbPath)
	require.NoError(t, err)

	out := runLTX(t, bin, "checksum", dbPath)
	require.Contains(t, out, want.String())
}
