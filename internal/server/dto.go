package server

import (
	"fmt"
	"strconv"

	"statusflow/internal/domain"
	"statusflow/internal/engine"
	"statusflow/internal/report"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id"`
	Description *string `json:"description,omitempty"`
}

type UpdateProjectRequest struct {
	Status      string  `json:"status,omitempty" enum:"active,archived"`
	Description *string `json:"description,omitempty"`
}

type CreateStatusRequest struct {
	CompanyID           string   `json:"company_id,omitempty"`
	ObjectType          string   `json:"object_type"`
	Name                string   `json:"name" maxLength:"64"`
	Category            string   `json:"category" enum:"START,IN_PROGRESS,END"`
	Color               string   `json:"color" maxLength:"32"`
	Remark              string   `json:"remark,omitempty" maxLength:"512"`
	TransferTo          []int64  `json:"transfer_to,omitempty"`
	CheckFieldList      []int64  `json:"check_field_list,omitempty"`
	PermissionOwnerList []string `json:"permission_owner_list,omitempty" example:"[\"owner\",\"role_admin\"]"`
	SetOwnerList        []string `json:"set_owner_list,omitempty" example:"[\"role_qa\",\"creater\"]"`
}

type UpdateStatusRequest struct {
	Name                *string   `json:"name,omitempty"`
	Category            *string   `json:"category,omitempty" enum:"START,IN_PROGRESS,END"`
	Color               *string   `json:"color,omitempty"`
	Remark              *string   `json:"remark,omitempty"`
	TransferTo          *[]int64  `json:"transfer_to,omitempty"`
	CheckFieldList      *[]int64  `json:"check_field_list,omitempty"`
	PermissionOwnerList *[]string `json:"permission_owner_list,omitempty"`
	SetOwnerList        *[]string `json:"set_owner_list,omitempty"`
}

type CreateFieldRequest struct {
	ObjectType string `json:"object_type"`
	Name       string `json:"name" maxLength:"64"`
	Remark     string `json:"remark,omitempty" maxLength:"512"`
}

type CreateObjectRequest struct {
	ObjectType string            `json:"object_type"`
	Title      string            `json:"title"`
	StatusID   *int64            `json:"status_id,omitempty"`
	OwnerID    string            `json:"owner_id,omitempty"`
	Fields     map[string]string `json:"fields,omitempty" doc:"field id to value"`
}

type SetFieldsRequest struct {
	Fields          map[string]string `json:"fields" doc:"field id to value; empty value clears the field"`
	ExpectedVersion int64             `json:"expected_version,omitempty"`
}

type TransitionRequest struct {
	TargetStatusID  int64 `json:"target_status_id"`
	ExpectedVersion int64 `json:"expected_version,omitempty"`
}

type RenderReportRequest struct {
	ObjectType string `json:"object_type"`
}

type InlineHTMLRequest struct {
	Name string `json:"name,omitempty"`
	HTML string `json:"html"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Responses

type ProjectResponse struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type StatusResponse struct {
	ID                  int64    `json:"id"`
	CompanyID           string   `json:"company_id,omitempty"`
	ProjectID           string   `json:"project_id"`
	ObjectType          string   `json:"object_type"`
	Name                string   `json:"name"`
	Category            string   `json:"category"`
	Color               string   `json:"color"`
	Remark              string   `json:"remark,omitempty"`
	TransferTo          []int64  `json:"transfer_to"`
	CheckFieldList      []int64  `json:"check_field_list"`
	PermissionOwnerList []string `json:"permission_owner_list"`
	SetOwnerList        []string `json:"set_owner_list"`
	CreateAccountID     string   `json:"create_account_id"`
	UpdateAccountID     string   `json:"update_account_id"`
	CreatedAt           string   `json:"created_at" format:"date-time"`
	UpdatedAt           string   `json:"updated_at" format:"date-time"`
}

type paginatedStatuses struct {
	Items []StatusResponse `json:"items"`
	Total int              `json:"total"`
}

type FieldResponse struct {
	ID         int64  `json:"id"`
	ProjectID  string `json:"project_id"`
	ObjectType string `json:"object_type"`
	Name       string `json:"name"`
	Remark     string `json:"remark,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type ObjectResponse struct {
	ID         string            `json:"id"`
	ProjectID  string            `json:"project_id"`
	ObjectType string            `json:"object_type"`
	Title      string            `json:"title"`
	StatusID   int64             `json:"status_id"`
	OwnerID    string            `json:"owner_id,omitempty"`
	CreatorID  string            `json:"creator_id"`
	Fields     map[string]string `json:"fields"`
	Version    int64             `json:"version"`
	CreatedAt  string            `json:"created_at" format:"date-time"`
	UpdatedAt  string            `json:"updated_at" format:"date-time"`
}

type paginatedObjects struct {
	Items      []ObjectResponse `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type CheckTransitionResponse struct {
	Allowed  bool    `json:"allowed"`
	Code     string  `json:"code,omitempty"`
	Reason   string  `json:"reason,omitempty"`
	FieldIDs []int64 `json:"field_ids,omitempty"`
}

type TransitionOptionResponse struct {
	Status  StatusResponse `json:"status"`
	Allowed bool           `json:"allowed"`
	Code    string         `json:"code,omitempty"`
	Reason  string         `json:"reason,omitempty"`
}

type ReportResponse struct {
	HTML     string             `json:"html"`
	Stats    report.InlineStats `json:"stats"`
	Location string             `json:"location,omitempty"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	ProjectID   string   `json:"project_id,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	// Key is only returned on creation.
	Key string `json:"key,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		OrgID:       p.OrgID,
		Status:      p.Status,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
	}
}

func statusResponse(d domain.StatusDefinition) StatusResponse {
	return StatusResponse{
		ID:                  d.ID,
		CompanyID:           d.CompanyID,
		ProjectID:           d.ProjectID,
		ObjectType:          d.ObjectType,
		Name:                d.Name,
		Category:            d.Category.String(),
		Color:               d.Color,
		Remark:              d.Remark,
		TransferTo:          nonNilIDs(d.TransferTo),
		CheckFieldList:      nonNilIDs(d.CheckFieldList),
		PermissionOwnerList: d.PermissionOwnerList.Strings(),
		SetOwnerList:        d.SetOwnerList.Strings(),
		CreateAccountID:     d.CreateAccountID,
		UpdateAccountID:     d.UpdateAccountID,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
}

func mapStatuses(items []domain.StatusDefinition) []StatusResponse {
	res := make([]StatusResponse, 0, len(items))
	for _, d := range items {
		res = append(res, statusResponse(d))
	}
	return res
}

func fieldResponse(f domain.FieldDefinition) FieldResponse {
	return FieldResponse{
		ID:         f.ID,
		ProjectID:  f.ProjectID,
		ObjectType: f.ObjectType,
		Name:       f.Name,
		Remark:     f.Remark,
		CreatedAt:  f.CreatedAt,
	}
}

func objectResponse(o domain.TrackedObject) ObjectResponse {
	fields := make(map[string]string, len(o.Fields))
	for id, v := range o.Fields {
		fields[strconv.FormatInt(id, 10)] = v
	}
	return ObjectResponse{
		ID:         o.ID,
		ProjectID:  o.ProjectID,
		ObjectType: o.ObjectType,
		Title:      o.Title,
		StatusID:   o.StatusID,
		OwnerID:    o.OwnerID,
		CreatorID:  o.CreatorID,
		Fields:     fields,
		Version:    o.Version,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

func optionResponse(opt engine.TransitionOption) TransitionOptionResponse {
	return TransitionOptionResponse{
		Status:  statusResponse(opt.Status),
		Allowed: opt.Allowed,
		Code:    opt.Code,
		Reason:  opt.Reason,
	}
}

func eventResponse(evt domain.Event) EventResponse {
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    evt.Payload,
	}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, CreatedAt: k.CreatedAt}
}

// parseFieldMap converts string field ids from JSON into numeric ids.
func parseFieldMap(in map[string]string) (map[int64]string, error) {
	if in == nil {
		return nil, nil
	}
	out := make(map[int64]string, len(in))
	for k, v := range in {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid field id %q", k)
		}
		out[id] = v
	}
	return out, nil
}

func nonNilSlice(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func nonNilIDs(items []int64) []int64 {
	if items == nil {
		return []int64{}
	}
	return items
}
