package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rawsym/symdex-engine/pkg/models"
)

// Descriptor is the YAML project document the ingestion CLI consumes: one
// project, its versions, and the disassembly dumps to index.
type Descriptor struct {
	Project  string        `yaml:"project"`
	Repo     string        `yaml:"repo,omitempty"`
	Platform string        `yaml:"platform,omitempty"`
	Versions []VersionSpec `yaml:"versions,omitempty"`
	Objects  []ObjectSpec  `yaml:"objects"`
}

// VersionSpec declares one named version; its platform overrides the
// project-level default.
type VersionSpec struct {
	Name     string `yaml:"name"`
	Platform string `yaml:"platform,omitempty"`
}

// ObjectSpec points at one disassembly dump file.
type ObjectSpec struct {
	Path     string `yaml:"path"`
	Name     string `yaml:"name,omitempty"` // defaults to the file's base name without extension
	Version  string `yaml:"version,omitempty"`
	Upstream string `yaml:"upstream,omitempty"`
}

// LoadDescriptor parses and validates a descriptor file. All failures are
// user errors and wrap ErrInvalidArgument.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read descriptor: %v", models.ErrInvalidArgument, err)
	}
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: parse descriptor: %v", models.ErrInvalidArgument, err)
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	for i := range d.Objects {
		if d.Objects[i].Name == "" {
			d.Objects[i].Name = strings.TrimSuffix(filepath.Base(d.Objects[i].Path), filepath.Ext(d.Objects[i].Path))
		}
	}
	return &d, nil
}

func (d *Descriptor) validate() error {
	if d.Project == "" {
		return fmt.Errorf("%w: descriptor missing project name", models.ErrInvalidArgument)
	}
	if len(d.Objects) == 0 {
		return fmt.Errorf("%w: descriptor lists no objects", models.ErrInvalidArgument)
	}
	if d.Platform != "" && models.PlatformTag(d.Platform) == models.PlatformUnknown && d.Platform != "unknown" {
		return fmt.Errorf("%w: unknown platform %q", models.ErrInvalidArgument, d.Platform)
	}

	versions := make(map[string]bool, len(d.Versions))
	for _, v := range d.Versions {
		if v.Name == "" {
			return fmt.Errorf("%w: version with empty name", models.ErrInvalidArgument)
		}
		if versions[v.Name] {
			return fmt.Errorf("%w: duplicate version %q", models.ErrInvalidArgument, v.Name)
		}
		if v.Platform != "" && models.PlatformTag(v.Platform) == models.PlatformUnknown && v.Platform != "unknown" {
			return fmt.Errorf("%w: version %q: unknown platform %q", models.ErrInvalidArgument, v.Name, v.Platform)
		}
		versions[v.Name] = true
	}

	for _, obj := range d.Objects {
		if obj.Path == "" {
			return fmt.Errorf("%w: object with empty path", models.ErrInvalidArgument)
		}
		if obj.Version != "" && len(d.Versions) > 0 && !versions[obj.Version] {
			return fmt.Errorf("%w: object %q references undeclared version %q",
				models.ErrInvalidArgument, obj.Path, obj.Version)
		}
	}
	return nil
}

// PlatformFor resolves the platform tag for one object: its version's
// platform if declared, else the project default.
func (d *Descriptor) PlatformFor(obj ObjectSpec) int {
	for _, v := range d.Versions {
		if v.Name == obj.Version && v.Platform != "" {
			return models.PlatformTag(v.Platform)
		}
	}
	return models.PlatformTag(d.Platform)
}
