package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *DirStore {
	t.Helper()
	s, err := NewDirStore(filepath.Join(t.TempDir(), "attachments"))
	require.NoError(t, err)
	return s
}

func TestDirStore_WriteOpenDelete(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Write("ID00000001-00000001_a.txt", []byte("hello")))
	assert.True(t, s.Exists("ID00000001-00000001_a.txt"))

	rc, err := s.Open("ID00000001-00000001_a.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"ID00000001-00000001_a.txt"}, names, "no temp files may remain")

	require.NoError(t, s.Delete("ID00000001-00000001_a.txt"))
	assert.False(t, s.Exists("ID00000001-00000001_a.txt"))
	assert.NoError(t, s.Delete("ID00000001-00000001_a.txt"), "deleting a missing blob is not an error")

	_, err = s.Open("ID00000001-00000001_a.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestDirStore_WriteOverwrites(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("x.bin", []byte("one")))
	require.NoError(t, s.Write("x.bin", []byte("two")))

	data, err := os.ReadFile(s.Path("x.bin"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestDirStore_FailedWriteLeavesNothing(t *testing.T) {
	s := newTestStore(t)
	// A directory occupying the target name makes the final rename fail
	require.NoError(t, os.Mkdir(filepath.Join(s.Root(), "taken"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "taken", "child"), []byte("x"), 0644))

	err := s.Write("taken", []byte("data"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFileWriteFailed))

	names, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file %s left behind", e.Name())
	}
}

func TestDirStore_RejectsTraversal(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"", "..", "../escape", "a/b", `a\b`} {
		assert.ErrorIs(t, s.Write(name, []byte("x")), ErrInvalidName, name)
		assert.False(t, s.Exists(name))
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"report.pdf":          "report.pdf",
		"../../etc/passwd":    ".._.._etc_passwd",
		`C:\temp\a.txt`:       "C__temp_a.txt",
		"what?.txt":           "what_.txt",
		"  ":                  "unknown",
		"..":                  "unknown",
		"tab\tname":           "tab_name",
		"fatura março.pdf":    "fatura março.pdf",
		"a<b>c|d\"e*f:g.docx": "a_b_c_d_e_f_g.docx",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), in)
	}
}

func TestSanitizeFilename_LongNames(t *testing.T) {
	long := SanitizeFilename(strings.Repeat("a", 250) + ".pdf")
	assert.Len(t, long, MaxFilenameBytes)
	assert.True(t, strings.HasSuffix(long, ".pdf"))

	// Multi-byte runes are never split
	accented := SanitizeFilename(strings.Repeat("ç", 120) + ".txt")
	assert.LessOrEqual(t, len(accented), MaxFilenameBytes)
	assert.True(t, utf8.ValidString(accented))
	assert.True(t, strings.HasSuffix(accented, ".txt"))

	// An overlong extension is not worth keeping
	noExt := SanitizeFilename("x." + strings.Repeat("b", 200))
	assert.Len(t, noExt, MaxFilenameBytes)
}

func TestDirStore_WritesLongSanitizedName(t *testing.T) {
	s := newTestStore(t)
	name := "ID00000001-00000001_" + SanitizeFilename(strings.Repeat("n", 240)+".docx")

	require.NoError(t, s.Write(name, []byte("content")))
	assert.True(t, s.Exists(name))
}

// Property: a sanitized name is always a valid blob name
func TestProperty_SanitizedNamesAreStorable(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("sanitized_name_valid", prop.ForAll(
		func(name string) bool {
			sanitized := SanitizeFilename(name)
			return validateName(sanitized) == nil && len(sanitized) <= MaxFilenameBytes && utf8.ValidString(sanitized)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
