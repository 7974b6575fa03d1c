package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"statusflow/internal/domain"
)

// Config models statusflow.yml.
type Config struct {
	Project struct {
		ID  string `yaml:"id"`
		Org string `yaml:"org"`
	} `yaml:"project"`
	ObjectTypes map[string]ObjectType `yaml:"object_types"`
	RBAC        struct {
		Roles map[string]RBACRole `yaml:"roles"`
		// Members seeds actor_roles on project creation: role id -> actor ids.
		Members map[string][]string `yaml:"members"`
	} `yaml:"rbac"`
	Report   ReportConfig    `yaml:"report"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// ObjectType declares the fields and workflow of one kind of tracked object.
// Statuses reference each other and fields by name.
type ObjectType struct {
	Fields   []FieldSpec  `yaml:"fields"`
	Statuses []StatusSpec `yaml:"statuses"`
}

type FieldSpec struct {
	Name   string `yaml:"name"`
	Remark string `yaml:"remark"`
}

type StatusSpec struct {
	Name             string   `yaml:"name"`
	Category         string   `yaml:"category"`
	Color            string   `yaml:"color"`
	Remark           string   `yaml:"remark"`
	TransferTo       []string `yaml:"transfer_to"`
	CheckFields      []string `yaml:"check_fields"`
	PermissionOwners []string `yaml:"permission_owners"`
	SetOwners        []string `yaml:"set_owners"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type ReportConfig struct {
	FetchTimeoutSeconds int          `yaml:"fetch_timeout_seconds"`
	FetchRPS            float64      `yaml:"fetch_rps"`
	FetchBurst          int          `yaml:"fetch_burst"`
	PublishDir          string       `yaml:"publish_dir"`
	Minio               *MinioConfig `yaml:"minio"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// FetchTimeout defaults to 10s.
func (r ReportConfig) FetchTimeout() time.Duration {
	if r.FetchTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(r.FetchTimeoutSeconds) * time.Second
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with sf project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if len(c.ObjectTypes) == 0 {
		return fmt.Errorf("config.object_types is required")
	}
	for _, typeName := range c.ObjectTypeNames() {
		if err := c.ObjectTypes[typeName].validate(typeName); err != nil {
			return err
		}
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["admin"]; !ok {
			return fmt.Errorf("config.rbac.roles must include admin")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	for roleID, members := range c.RBAC.Members {
		if len(c.RBAC.Roles) > 0 {
			if _, ok := c.RBAC.Roles[roleID]; !ok {
				return fmt.Errorf("config.rbac.members references unknown role %s", roleID)
			}
		}
		for _, m := range members {
			if strings.TrimSpace(m) == "" {
				return fmt.Errorf("role %s has empty member id", roleID)
			}
		}
	}
	if c.Report.FetchRPS < 0 {
		return fmt.Errorf("config.report.fetch_rps must not be negative")
	}
	if m := c.Report.Minio; m != nil && (m.Endpoint == "" || m.Bucket == "") {
		return fmt.Errorf("config.report.minio requires endpoint and bucket")
	}
	return nil
}

func (o ObjectType) validate(typeName string) error {
	fields := make(map[string]bool, len(o.Fields))
	for _, f := range o.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("object type %s has a field without name", typeName)
		}
		if fields[f.Name] {
			return fmt.Errorf("object type %s declares field %s twice", typeName, f.Name)
		}
		fields[f.Name] = true
	}
	if len(o.Statuses) == 0 {
		return fmt.Errorf("object type %s has no statuses", typeName)
	}
	statuses := make(map[string]bool, len(o.Statuses))
	for _, s := range o.Statuses {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("object type %s has a status without name", typeName)
		}
		if statuses[s.Name] {
			return fmt.Errorf("object type %s declares status %s twice", typeName, s.Name)
		}
		statuses[s.Name] = true
	}
	starts := 0
	for _, s := range o.Statuses {
		cat, err := domain.ParseStatusCategory(s.Category)
		if err != nil {
			return fmt.Errorf("status %s.%s: %w", typeName, s.Name, err)
		}
		if cat == domain.CategoryStart {
			starts++
		}
		for _, next := range s.TransferTo {
			if !statuses[next] {
				return fmt.Errorf("status %s.%s transfers to unknown status %s", typeName, s.Name, next)
			}
		}
		for _, f := range s.CheckFields {
			if !fields[f] {
				return fmt.Errorf("status %s.%s checks unknown field %s", typeName, s.Name, f)
			}
		}
		if _, err := domain.ParseTokenSet(s.PermissionOwners); err != nil {
			return fmt.Errorf("status %s.%s permission_owners: %w", typeName, s.Name, err)
		}
		if _, err := domain.ParseTokenSet(s.SetOwners); err != nil {
			return fmt.Errorf("status %s.%s set_owners: %w", typeName, s.Name, err)
		}
	}
	if starts == 0 {
		return fmt.Errorf("object type %s needs at least one START status", typeName)
	}
	return nil
}

// ObjectTypeNames returns the configured object types sorted by name.
func (c *Config) ObjectTypeNames() []string {
	names := make([]string, 0, len(c.ObjectTypes))
	for name := range c.ObjectTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "statusflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	cfg.Project.ID = projectID
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

const defaultTemplate = `project:
  id: %s
  org: default-org

object_types:
  task:
    fields:
      - name: estimate
        remark: "Estimated effort"
      - name: resolution
        remark: "How the task was closed"
    statuses:
      - name: todo
        category: START
        color: "#9e9e9e"
        transfer_to: [doing, canceled]
      - name: doing
        category: IN_PROGRESS
        color: "#2196f3"
        transfer_to: [review, canceled]
        check_fields: [estimate]
        permission_owners: [owner, creater, role_admin, role_member]
      - name: review
        category: IN_PROGRESS
        color: "#ff9800"
        transfer_to: [done, doing]
        set_owners: [role_reviewer, creater]
      - name: done
        category: END
        color: "#4caf50"
        check_fields: [resolution]
        permission_owners: [owner, role_admin, role_reviewer]
      - name: canceled
        category: END
        color: "#616161"
        transfer_to: [todo]
  bug:
    fields:
      - name: severity
      - name: resolution
    statuses:
      - name: new
        category: START
        color: "#f44336"
        transfer_to: [fixing, rejected]
      - name: fixing
        category: IN_PROGRESS
        color: "#2196f3"
        transfer_to: [verifying]
        check_fields: [severity]
        set_owners: [role_member, creater]
      - name: verifying
        category: IN_PROGRESS
        color: "#ff9800"
        transfer_to: [closed, fixing]
        set_owners: [role_qa, creater]
      - name: closed
        category: END
        color: "#4caf50"
        check_fields: [resolution]
        permission_owners: [role_qa, role_admin]
      - name: rejected
        category: END
        color: "#616161"
        transfer_to: [new]

rbac:
  roles:
    admin:
      description: "Project administrator"
      permissions:
        - project.create
        - project.read
        - project.update
        - project.config.read
        - project.events.read
        - status.read
        - status.admin
        - field.admin
        - object.read
        - object.create
        - object.update
        - object.transition
        - report.render
        - rbac.manage
    member:
      description: "Team member"
      permissions:
        - project.read
        - status.read
        - object.read
        - object.create
        - object.update
        - object.transition
        - report.render
    reviewer:
      description: "Reviews finished work"
      permissions:
        - project.read
        - status.read
        - object.read
        - object.transition
    qa:
      description: "Quality assurance"
      permissions:
        - project.read
        - status.read
        - object.read
        - object.update
        - object.transition

report:
  fetch_timeout_seconds: 10
  fetch_rps: 5
  fetch_burst: 2
`
