// Copyright 2025 James Ross
package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySupportedExtensions(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.IsSupported("sample.txt"))
	assert.True(t, r.IsSupported("sample.MD"))
	assert.True(t, r.IsSupported("sample.CSV"))
	assert.False(t, r.IsSupported("sample.xyz"))
}

func TestRegistryGetUnsupported(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("sample.xyz")
	require.ErrorIs(t, err, ErrUnsupportedExtension)
}

func TestTextExtractorStripsBOM(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte("\xEF\xBB\xBFhello world"), 0o644))

	r := NewRegistry()
	e, err := r.Get(path)
	require.NoError(t, err)
	res, err := e.Extract(path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
	assert.Equal(t, "txt", res.Format)
}

func TestCsvExtractorJoinsCells(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b,c\n1,2,3\n"), 0o644))

	r := NewRegistry()
	e, err := r.Get(path)
	require.NoError(t, err)
	res, err := e.Extract(path)
	require.NoError(t, err)
	assert.Equal(t, "a | b | c\n1 | 2 | 3", res.Text)
	assert.Equal(t, 2, res.Structure["row_count"])
}

func TestPdfExtractorEmptyStub(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.pdf")
	require.NoError(t, os.WriteFile(path, []byte{}, 0o644))

	r := NewRegistry()
	e, err := r.Get(path)
	require.NoError(t, err)
	res, err := e.Extract(path)
	require.NoError(t, err)
	assert.Equal(t, "", res.Text)
	assert.Equal(t, "empty_stub", res.Structure["fallback"])
	assert.Equal(t, 0.0, res.Quality["extraction_confidence"])
}

func TestPdfExtractorTextStubFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stub.pdf")
	payload := "%PDF-1.4\nhello   pdf   world\n"
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	r := NewRegistry()
	e, err := r.Get(path)
	require.NoError(t, err)
	res, err := e.Extract(path)
	require.NoError(t, err)
	assert.Equal(t, "hello pdf world", res.Text)
	assert.Equal(t, "text_stub", res.Structure["fallback"])
	assert.Equal(t, 0.25, res.Quality["extraction_confidence"])
}

func TestPdfExtractorCorruptBinary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt.pdf")
	payload := append([]byte("%PDF-1.4\n"), []byte{0xff, 0xfe, 0x00, 0x01, 0x02}...)
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	r := NewRegistry()
	e, err := r.Get(path)
	require.NoError(t, err)
	_, err = e.Extract(path)
	require.ErrorIs(t, err, ErrCorruptInput)
}
