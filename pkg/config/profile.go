package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Profile is a named governance policy set loaded from a YAML file. A
// profile overrides the policy numbers of an environment-derived Config
// while leaving transport and storage settings alone.
type Profile struct {
	SchemaVersion    string   `yaml:"schema_version" json:"schema_version"`
	Name             string   `yaml:"name" json:"name"`
	Committee        []string `yaml:"committee" json:"committee"`
	Quorum           int      `yaml:"quorum" json:"quorum"`
	RequiredMajority float64  `yaml:"required_majority" json:"required_majority"`
	CommentPeriod    string   `yaml:"comment_period,omitempty" json:"comment_period,omitempty"`
	MinDisputeStake  float64  `yaml:"min_dispute_stake,omitempty" json:"min_dispute_stake,omitempty"`
}

const profileSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["schema_version", "name", "committee", "quorum", "required_majority"],
  "properties": {
    "schema_version": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "committee": {
      "type": "array",
      "items": {"type": "string", "minLength": 1},
      "minItems": 1,
      "uniqueItems": true
    },
    "quorum": {"type": "integer", "minimum": 1},
    "required_majority": {"type": "number", "exclusiveMinimum": 50, "maximum": 100},
    "comment_period": {"type": "string"},
    "min_dispute_stake": {"type": "number", "exclusiveMinimum": 0}
  },
  "additionalProperties": false
}`

// profileSchemaConstraint gates which profile schema versions this build
// understands.
const profileSchemaConstraint = "^1"

var compiledProfileSchema = func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://recourse.schemas.local/profile.schema.json"
	if err := c.AddResource(url, strings.NewReader(profileSchema)); err != nil {
		panic(err)
	}
	return c.MustCompile(url)
}()

// LoadProfile loads profile_<name>.yaml from dir, validates it against the
// embedded schema, and gates its schema version.
func LoadProfile(dir, name string) (*Profile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(dir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}
	// Round-trip through JSON so the schema validator sees json-decoded
	// value types.
	jsonBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("profile %q is not json-compatible: %w", name, err)
	}
	var doc interface{}
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return nil, fmt.Errorf("profile %q is not json-compatible: %w", name, err)
	}
	if err := compiledProfileSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("profile %q failed schema validation: %w", name, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}

	v, err := semver.NewVersion(p.SchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("profile %q has a bad schema version %q: %w", name, p.SchemaVersion, err)
	}
	constraint, err := semver.NewConstraint(profileSchemaConstraint)
	if err != nil {
		return nil, err
	}
	if !constraint.Check(v) {
		return nil, fmt.Errorf("profile %q schema version %s is outside the supported range %s",
			name, p.SchemaVersion, profileSchemaConstraint)
	}

	return &p, nil
}

// Apply overlays the profile's policy numbers onto a copy of cfg.
func (p *Profile) Apply(cfg *Config) (*Config, error) {
	out := *cfg
	out.CommitteeMembers = append([]string(nil), p.Committee...)
	out.Quorum = p.Quorum
	out.RequiredMajority = p.RequiredMajority
	if p.CommentPeriod != "" {
		d, err := time.ParseDuration(p.CommentPeriod)
		if err != nil {
			return nil, fmt.Errorf("profile %q has a bad comment period: %w", p.Name, err)
		}
		out.CommentPeriod = d
	}
	if p.MinDisputeStake > 0 {
		out.MinDisputeStake = p.MinDisputeStake
	}
	return &out, nil
}
