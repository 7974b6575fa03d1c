package domain

import (
	"fmt"
	"strings"
)

type Project struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Status      string `json:"status" enum:"active,paused,archived"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// StatusCategory tags a status for reporting. The engine never branches on it.
type StatusCategory int

const (
	CategoryStart      StatusCategory = 1
	CategoryInProgress StatusCategory = 2
	CategoryEnd        StatusCategory = 3
)

func (c StatusCategory) String() string {
	switch c {
	case CategoryStart:
		return "START"
	case CategoryInProgress:
		return "IN_PROGRESS"
	case CategoryEnd:
		return "END"
	default:
		return fmt.Sprintf("CATEGORY(%d)", int(c))
	}
}

func (c StatusCategory) Valid() bool {
	return c >= CategoryStart && c <= CategoryEnd
}

// ParseStatusCategory accepts START, IN_PROGRESS, END in any case.
func ParseStatusCategory(s string) (StatusCategory, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "START":
		return CategoryStart, nil
	case "IN_PROGRESS":
		return CategoryInProgress, nil
	case "END":
		return CategoryEnd, nil
	}
	return 0, fmt.Errorf("invalid status category %q", s)
}

func (c StatusCategory) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid status category %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *StatusCategory) UnmarshalText(b []byte) error {
	parsed, err := ParseStatusCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// StatusDefinition is one configured status for a (project, object type) pair.
type StatusDefinition struct {
	ID                  int64          `json:"id"`
	CompanyID           string         `json:"company_id,omitempty"`
	ProjectID           string         `json:"project_id"`
	ObjectType          string         `json:"object_type"`
	Name                string         `json:"name"`
	Category            StatusCategory `json:"category"`
	Color               string         `json:"color"`
	Remark              string         `json:"remark,omitempty"`
	TransferTo          []int64        `json:"transfer_to"`
	CheckFieldList      []int64        `json:"check_field_list"`
	PermissionOwnerList TokenSet       `json:"permission_owner_list"`
	SetOwnerList        TokenSet       `json:"set_owner_list"`
	CreateAccountID     string         `json:"create_account_id"`
	UpdateAccountID     string         `json:"update_account_id"`
	CreatedAt           string         `json:"created_at" format:"date-time"`
	UpdatedAt           string         `json:"updated_at" format:"date-time"`
}

func (d StatusDefinition) CanTransferTo(id int64) bool {
	for _, t := range d.TransferTo {
		if t == id {
			return true
		}
	}
	return false
}

// TrackedObject is a task, bug or any other item moving through statuses.
type TrackedObject struct {
	ID         string           `json:"id"`
	ProjectID  string           `json:"project_id"`
	ObjectType string           `json:"object_type"`
	Title      string           `json:"title"`
	StatusID   int64            `json:"status_id"`
	OwnerID    string           `json:"owner_id,omitempty"`
	CreatorID  string           `json:"creator_id"`
	Fields     map[int64]string `json:"fields,omitempty"`
	Version    int64            `json:"version"`
	CreatedAt  string           `json:"created_at" format:"date-time"`
	UpdatedAt  string           `json:"updated_at" format:"date-time"`
}

// Clone returns a copy that shares no mutable state with o.
func (o TrackedObject) Clone() TrackedObject {
	c := o
	if o.Fields != nil {
		c.Fields = make(map[int64]string, len(o.Fields))
		for k, v := range o.Fields {
			c.Fields[k] = v
		}
	}
	return c
}

// HasField reports whether the field holds a non-blank value.
func (o TrackedObject) HasField(id int64) bool {
	v, ok := o.Fields[id]
	return ok && strings.TrimSpace(v) != ""
}

type FieldDefinition struct {
	ID         int64  `json:"id"`
	ProjectID  string `json:"project_id"`
	ObjectType string `json:"object_type"`
	Name       string `json:"name"`
	Remark     string `json:"remark,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
