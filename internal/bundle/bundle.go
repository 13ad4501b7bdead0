// Package bundle loads service bundle definitions and reconciles a tenant's
// activations against them. A bundle is a curated set of plugins, with
// per-plugin configuration, that an operator rolls out as one unit.
package bundle

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "orchestrall/internal/errors"
)

// CodeBundleInvalid marks a bundle definition that fails validation.
const CodeBundleInvalid xerrors.Code = "BUNDLE_INVALID"

func init() {
	xerrors.Register(CodeBundleInvalid, xerrors.Attributes{
		Message:  "service bundle definition is invalid",
		Severity: xerrors.SeverityInfo,
	})
}

// Entry is one plugin the bundle rolls out, with the configuration the
// bundle prescribes for it.
type Entry struct {
	ID     string         `yaml:"id" json:"id"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// Bundle is a named, versioned set of plugin entries plus the ambient
// declarations the set needs from the host.
type Bundle struct {
	Name        string   `yaml:"name" json:"name"`
	Version     string   `yaml:"version" json:"version"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Entries     []Entry  `yaml:"plugins" json:"plugins"`
	EnvVars     []string `yaml:"envVars,omitempty" json:"envVars,omitempty"`
	Permissions []string `yaml:"permissions,omitempty" json:"permissions,omitempty"`
}

// Decode parses and validates a bundle definition from YAML (or JSON, which
// the YAML parser accepts).
func Decode(raw []byte) (*Bundle, error) {
	var b Bundle
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return nil, xerrors.Wrap(CodeBundleInvalid, err, "parse bundle definition")
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Load reads a bundle definition from disk.
func Load(path string) (*Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "read bundle file")
	}
	return Decode(raw)
}

func (b *Bundle) validate() error {
	var violations []string
	if strings.TrimSpace(b.Name) == "" {
		violations = append(violations, "name is required")
	}
	if strings.TrimSpace(b.Version) == "" {
		violations = append(violations, "version is required")
	}
	if len(b.Entries) == 0 {
		violations = append(violations, "plugins list is empty")
	}
	seen := make(map[string]struct{}, len(b.Entries))
	for i, entry := range b.Entries {
		if strings.TrimSpace(entry.ID) == "" {
			violations = append(violations, fmt.Sprintf("plugins[%d]: id is required", i))
			continue
		}
		if _, dup := seen[entry.ID]; dup {
			violations = append(violations, fmt.Sprintf("plugins[%d]: duplicate id %s", i, entry.ID))
		}
		seen[entry.ID] = struct{}{}
	}
	if len(violations) > 0 {
		return xerrors.New(CodeBundleInvalid, strings.Join(violations, "; "))
	}
	return nil
}
