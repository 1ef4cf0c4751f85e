package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"demandline/internal/domain"
	"demandline/internal/identity"
)

// CompletePolicy decides who may complete a demand.
type CompletePolicy string

const (
	CompleteAssignee         CompletePolicy = "assignee"
	CompleteAssigneeOrLeader CompletePolicy = "assignee_or_leader"
	CompleteAny              CompletePolicy = "any"
)

func (p CompletePolicy) Valid() bool {
	switch p {
	case CompleteAssignee, CompleteAssigneeOrLeader, CompleteAny:
		return true
	}
	return false
}

// Config models demandline.yml.
type Config struct {
	Identities []domain.Identity `yaml:"identities"`
	Policies   struct {
		Complete           CompletePolicy `yaml:"complete"`
		RejectPastDueDates bool           `yaml:"reject_past_due_dates"`
	} `yaml:"policies"`
	Report struct {
		Title string `yaml:"title"`
	} `yaml:"report"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Identities) == 0 {
		return fmt.Errorf("config.identities is required")
	}
	if _, err := identity.New(c.Identities); err != nil {
		return fmt.Errorf("config.identities: %w", err)
	}
	if c.Policies.Complete == "" {
		c.Policies.Complete = CompleteAssignee
	}
	if !c.Policies.Complete.Valid() {
		return fmt.Errorf("config.policies.complete must be one of assignee, assignee_or_leader, any")
	}
	if c.Report.Title == "" {
		c.Report.Title = "Demand Report"
	}
	return nil
}

// Registry builds the identity registry described by the config.
func (c *Config) Registry() (*identity.Registry, error) {
	return identity.New(c.Identities)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "demandline.yml")
}

// Load reads the workspace config, falling back to Default when absent.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	_ = cfg.Validate()
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `identities:
  - id: "1"
    name: "Líder João"
    role: leader
  - id: "2"
    name: "Colaborador Maria"
    role: collaborator
  - id: "3"
    name: "Colaborador Pedro"
    role: collaborator
  - id: "4"
    name: "Colaborador Ana"
    role: collaborator
  - id: "5"
    name: "Colaborador Carlos"
    role: collaborator

policies:
  # who may complete a demand: assignee | assignee_or_leader | any
  complete: assignee
  reject_past_due_dates: false

report:
  title: "Demand Report"
`
