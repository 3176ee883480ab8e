package container

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteHeaderAndSniff(t *testing.T) {
	cases := []struct {
		magic Magic
		want  string
	}{
		{CountersFileMagic, "counters"},
		{RingBufferFileMagic, "ring"},
	}

	for _, c := range cases {
		path := filepath.Join(t.TempDir(), "region.bin")
		f, err := os.Create(path)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if err := WriteHeader(f, c.magic, 4096); err != nil {
			t.Fatalf("WriteHeader: %v", err)
		}
		if err := f.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}

		kind, err := Sniff(path)
		if err != nil {
			t.Fatalf("Sniff: %v", err)
		}
		if kind != c.want {
			t.Fatalf("Sniff = %q, want %q", kind, c.want)
		}
	}
}

func TestSniffRejectsUnknownMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.bin")
	if err := os.WriteFile(path, []byte("NOPE!!!!"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Sniff(path); err == nil {
		t.Fatalf("Sniff on unrecognized magic should fail")
	}
}
