package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rawsym/symdex-engine/pkg/models"
)

func writeDescriptor(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "project.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	return path
}

func TestLoadDescriptor_Complete(t *testing.T) {
	path := writeDescriptor(t, `
project: starfall
repo: https://example.com/starfall
platform: mips
versions:
  - name: us-1.0
  - name: jp-1.1
    platform: ppc
objects:
  - path: dumps/main.json
    version: us-1.0
  - path: dumps/audio.json
    name: audio_driver
    version: jp-1.1
    upstream: https://example.com/audio
`)

	d, err := LoadDescriptor(path)
	if err != nil {
		t.Fatalf("LoadDescriptor failed: %v", err)
	}
	if d.Project != "starfall" || len(d.Objects) != 2 {
		t.Errorf("Descriptor misparsed: %+v", d)
	}
	if d.Objects[0].Name != "main" {
		t.Errorf("Object name must default to the file base name, got %q", d.Objects[0].Name)
	}
	if got := d.PlatformFor(d.Objects[0]); got != models.PlatformMIPS {
		t.Errorf("Expected project-default platform mips, got %v", got)
	}
	if got := d.PlatformFor(d.Objects[1]); got != models.PlatformPPC {
		t.Errorf("Expected version platform ppc, got %v", got)
	}
}

func TestLoadDescriptor_UserErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"missing project", "objects:\n  - path: a.json\n"},
		{"no objects", "project: p\n"},
		{"empty object path", "project: p\nobjects:\n  - name: x\n"},
		{"undeclared version", "project: p\nversions:\n  - name: v1\nobjects:\n  - path: a.json\n    version: v2\n"},
		{"bad platform", "project: p\nplatform: z80\nobjects:\n  - path: a.json\n"},
		{"duplicate version", "project: p\nversions:\n  - name: v1\n  - name: v1\nobjects:\n  - path: a.json\n"},
		{"bad yaml", "project: [unclosed\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := LoadDescriptor(writeDescriptor(t, c.doc))
			if !errors.Is(err, models.ErrInvalidArgument) {
				t.Errorf("Expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestLoadDescriptor_MissingFile(t *testing.T) {
	_, err := LoadDescriptor(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for a missing descriptor, got %v", err)
	}
}
