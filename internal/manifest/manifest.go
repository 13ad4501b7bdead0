package manifest

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "orchestrall/internal/errors"
)

// FieldSpec describes one entry of a plugin's configuration schema.
type FieldSpec struct {
	Type     string `yaml:"type" json:"type"`
	Required bool   `yaml:"required" json:"required"`
	Secret   bool   `yaml:"secret" json:"secret"`
}

// Hooks holds the optional lifecycle hook names a plugin declares.
type Hooks struct {
	OnInstall   string `yaml:"onInstall" json:"onInstall"`
	OnEnable    string `yaml:"onEnable" json:"onEnable"`
	OnDisable   string `yaml:"onDisable" json:"onDisable"`
	OnUninstall string `yaml:"onUninstall" json:"onUninstall"`
}

// Manifest is the static description of a plugin kind. It is immutable once
// loaded; a catalog rescan replaces it wholesale.
type Manifest struct {
	Name         string               `yaml:"name" json:"name"`
	Version      string               `yaml:"version" json:"version"`
	Description  string               `yaml:"description" json:"description"`
	Category     string               `yaml:"category" json:"category"`
	Capabilities []string             `yaml:"capabilities" json:"capabilities"`
	ConfigSchema map[string]FieldSpec `yaml:"configSchema" json:"configSchema,omitempty"`
	Hooks        Hooks                `yaml:"hooks" json:"hooks"`
}

const CodeManifestInvalid xerrors.Code = "MANIFEST_INVALID"

func init() {
	xerrors.Register(CodeManifestInvalid, xerrors.Attributes{
		Message:  "plugin manifest is structurally invalid",
		Severity: xerrors.SeverityWarning,
	})
}

// Decode parses a manifest document (YAML or JSON; JSON is a YAML subset),
// validates its structure and returns the typed manifest.
func Decode(raw []byte) (*Manifest, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, xerrors.Wrap(CodeManifestInvalid, err, "decode manifest")
	}
	if err := Validate(doc); err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, xerrors.Wrap(CodeManifestInvalid, err, "decode manifest fields")
	}
	return &m, nil
}

// RequiredFields lists the top-level keys every manifest must declare.
var RequiredFields = []string{"name", "version", "description", "category", "capabilities"}

// Validate checks the loaded manifest document against the structural rules.
// All violations are collected and returned as a single error so callers can
// log one complete diagnostic. Pure; no side effects.
func Validate(doc map[string]any) error {
	if doc == nil {
		return xerrors.New(CodeManifestInvalid, "manifest document is empty")
	}

	var violations []string
	for _, field := range RequiredFields {
		value, ok := doc[field]
		if !ok || value == nil {
			violations = append(violations, fmt.Sprintf("missing required field %q", field))
		}
	}

	if raw, ok := doc["capabilities"]; ok && raw != nil {
		if _, isSeq := raw.([]any); !isSeq {
			violations = append(violations, "field \"capabilities\" must be a sequence")
		}
	}

	if raw, ok := doc["configSchema"]; ok && raw != nil {
		schema, isMap := raw.(map[string]any)
		if !isMap {
			violations = append(violations, "field \"configSchema\" must be a mapping of field descriptors")
		} else {
			for name, descriptor := range schema {
				if _, isMap := descriptor.(map[string]any); !isMap {
					violations = append(violations, fmt.Sprintf("configSchema entry %q must be a mapping", name))
				}
			}
		}
	}

	if len(violations) == 0 {
		return nil
	}
	return xerrors.New(CodeManifestInvalid, strings.Join(violations, "; "))
}

// MissingRequiredConfig returns the names of schema fields marked required
// that are absent from the supplied configuration.
func (m *Manifest) MissingRequiredConfig(config map[string]any) []string {
	var missing []string
	for name, spec := range m.ConfigSchema {
		if !spec.Required {
			continue
		}
		// An explicit null counts as missing, so a config update cannot
		// blank out a required field.
		if value, ok := config[name]; !ok || value == nil {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
