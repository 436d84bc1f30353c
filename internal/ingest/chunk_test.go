package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestChunk(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []string
	}{
		{"empty", "", 10, 2, nil},
		{"shorter than size", "abc", 10, 2, []string{"abc"}},
		{"exact windows", "abcdefghij", 4, 1, []string{"abcd", "defg", "ghij"}},
		{"trailing window", "abcdefgh", 4, 1, []string{"abcd", "defg", "gh"}},
		{"overlap clamped", "abcdefghij", 5, 9, []string{"abcde", "efghi", "ij"}},
		{"multibyte", "héllo wörld", 6, 3, []string{"héllo ", "lo wör", "wörld"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Chunk(tt.text, tt.size, tt.overlap)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("Chunk(%q, %d, %d) = %q, want %q", tt.text, tt.size, tt.overlap, got, tt.want)
			}
		})
	}
}

func TestChunk_Defaults(t *testing.T) {
	text := strings.Repeat("x", 2500)
	got := Chunk(text, 0, 0)
	// 1000-character windows advancing by 800.
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if len(got[0]) != 1000 || len(got[2]) != 900 {
		t.Errorf("window sizes = %d, %d, want 1000, 900", len(got[0]), len(got[2]))
	}
}

func TestExtract(t *testing.T) {
	text, err := Extract("README.MD", []byte("# Title\nbody"))
	if err != nil || text != "# Title\nbody" {
		t.Errorf("Extract(md) = %q, %v", text, err)
	}
	if _, err := Extract("notes.txt", []byte{0xff, 0xfe}); err == nil {
		t.Error("Extract(invalid utf-8) succeeded")
	}
	if _, err := Extract("sheet.xlsx", []byte("x")); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("Extract(xlsx) err = %v, want ErrUnsupportedType", err)
	}
	if _, err := Extract("broken.pdf", []byte("not a pdf")); err == nil {
		t.Error("Extract(broken pdf) succeeded")
	}
}

func TestFiles(t *testing.T) {
	root := t.TempDir()
	f := NewFiles(root)

	path, err := f.Save("u1", "c1", "d1", "../../escape.txt", []byte("hello"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if want := filepath.Join(root, "u1", "c1", "d1", "escape.txt"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	data, err := f.Read(path)
	if err != nil || string(data) != "hello" {
		t.Errorf("Read = %q, %v", data, err)
	}

	if _, err := f.Save("u1", "../c1", "d1", "x.txt", nil); err == nil {
		t.Error("Save accepted a traversal component")
	}
	if _, err := f.Read(filepath.Join(os.TempDir(), "elsewhere.txt")); err == nil {
		t.Error("Read accepted a path outside the root")
	}

	if err := f.RemoveDocument("u1", "c1", "d1"); err != nil {
		t.Fatalf("RemoveDocument: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file still exists after RemoveDocument: %v", err)
	}
}
