package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Rule constrains one named input field.
type Rule struct {
	Field     string
	Required  bool
	MaxLength int
}

type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationErrors collects every rule violation of one input.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fe.Field+" "+fe.Reason)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validate evaluates rules against values keyed by Rule.Field. Lengths are
// counted in runes.
func Validate(rules []Rule, values map[string]string) error {
	var errs ValidationErrors
	for _, r := range rules {
		v := values[r.Field]
		if r.Required && strings.TrimSpace(v) == "" {
			errs = append(errs, FieldError{Field: r.Field, Reason: "is required"})
			continue
		}
		if r.MaxLength > 0 && utf8.RuneCountInString(v) > r.MaxLength {
			errs = append(errs, FieldError{Field: r.Field, Reason: "exceeds max length " + strconv.Itoa(r.MaxLength)})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

var StatusDefinitionRules = []Rule{
	{Field: "project_id", Required: true},
	{Field: "object_type", Required: true, MaxLength: 64},
	{Field: "name", Required: true, MaxLength: 64},
	{Field: "color", Required: true, MaxLength: 32},
	{Field: "remark", MaxLength: 512},
	{Field: "transfer_to", MaxLength: 512},
	{Field: "check_field_list", MaxLength: 512},
	{Field: "permission_owner_list", MaxLength: 512},
	{Field: "set_owner_list", MaxLength: 512},
	{Field: "create_account_id", Required: true},
	{Field: "update_account_id", Required: true},
}

var FieldDefinitionRules = []Rule{
	{Field: "project_id", Required: true},
	{Field: "object_type", Required: true, MaxLength: 64},
	{Field: "name", Required: true, MaxLength: 64},
	{Field: "remark", MaxLength: 512},
}

// Validate checks d against StatusDefinitionRules and the category tag.
func (d StatusDefinition) Validate() error {
	err := Validate(StatusDefinitionRules, map[string]string{
		"project_id":            d.ProjectID,
		"object_type":           d.ObjectType,
		"name":                  d.Name,
		"color":                 d.Color,
		"remark":                d.Remark,
		"transfer_to":           EncodeIDs(d.TransferTo),
		"check_field_list":      EncodeIDs(d.CheckFieldList),
		"permission_owner_list": EncodeTokens(d.PermissionOwnerList),
		"set_owner_list":        EncodeTokens(d.SetOwnerList),
		"create_account_id":     d.CreateAccountID,
		"update_account_id":     d.UpdateAccountID,
	})
	var errs ValidationErrors
	if err != nil {
		errs = err.(ValidationErrors)
	}
	if !d.Category.Valid() {
		errs = append(errs, FieldError{Field: "category", Reason: fmt.Sprintf("must be START, IN_PROGRESS or END (got %d)", int(d.Category))})
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (f FieldDefinition) Validate() error {
	return Validate(FieldDefinitionRules, map[string]string{
		"project_id":  f.ProjectID,
		"object_type": f.ObjectType,
		"name":        f.Name,
		"remark":      f.Remark,
	})
}

// EncodeIDs is the storage form of an id list; "" for an empty list.
func EncodeIDs(ids []int64) string {
	if len(ids) == 0 {
		return ""
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

func DecodeIDs(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, fmt.Errorf("decode id list: %w", err)
	}
	return ids, nil
}

// EncodeTokens is the storage form of a token set; "" for an empty set.
func EncodeTokens(s TokenSet) string {
	if len(s) == 0 {
		return ""
	}
	b, _ := json.Marshal(s.Strings())
	return string(b)
}

func DecodeTokens(s string) (TokenSet, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var raw []string
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("decode token list: %w", err)
	}
	return ParseTokenSet(raw)
}
