package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"statusflow/internal/config"
	"statusflow/internal/domain"
	"statusflow/internal/engine/auth"
	"statusflow/internal/events"
	"statusflow/internal/metrics"
	"statusflow/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Auth    auth.Service
	Config  *config.Config
	Metrics *metrics.Recorder
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// transitioner resolves roles through tx so reads see the transaction's view.
func (e Engine) transitioner(tx *sql.Tx) Transitioner {
	if tx == nil {
		return Transitioner{Resolver: e.Auth}
	}
	return Transitioner{Resolver: e.Auth.Bind(tx)}
}

// StatusInput carries the mutable attributes of a status definition.
// Tokens are given in their text form and parsed on save.
type StatusInput struct {
	CompanyID           string
	ProjectID           string
	ObjectType          string
	Name                string
	Category            domain.StatusCategory
	Color               string
	Remark              string
	TransferTo          []int64
	CheckFieldList      []int64
	PermissionOwnerList []string
	SetOwnerList        []string
}

func parseTokens(field string, items []string) (domain.TokenSet, error) {
	set, err := domain.ParseTokenSet(items)
	if err != nil {
		return nil, domain.ValidationErrors{{Field: field, Reason: err.Error()}}
	}
	return set, nil
}

func (e Engine) CreateStatus(ctx context.Context, in StatusInput, actorID string) (domain.StatusDefinition, error) {
	if _, err := e.Repo.GetProject(ctx, in.ProjectID); err != nil {
		return domain.StatusDefinition{}, err
	}
	perm, err := parseTokens("permission_owner_list", in.PermissionOwnerList)
	if err != nil {
		return domain.StatusDefinition{}, err
	}
	setOwner, err := parseTokens("set_owner_list", in.SetOwnerList)
	if err != nil {
		return domain.StatusDefinition{}, err
	}
	now := e.stamp()
	d := domain.StatusDefinition{
		CompanyID:           in.CompanyID,
		ProjectID:           in.ProjectID,
		ObjectType:          in.ObjectType,
		Name:                strings.TrimSpace(in.Name),
		Category:            in.Category,
		Color:               in.Color,
		Remark:              in.Remark,
		TransferTo:          in.TransferTo,
		CheckFieldList:      in.CheckFieldList,
		PermissionOwnerList: perm,
		SetOwnerList:        setOwner,
		CreateAccountID:     actorID,
		UpdateAccountID:     actorID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := d.Validate(); err != nil {
		return d, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.checkReferences(ctx, tx, d); err != nil {
		return d, err
	}
	id, err := e.Repo.InsertStatusDefinition(ctx, tx, d)
	if err != nil {
		return d, err
	}
	d.ID = id
	if err := e.Events.Append(ctx, tx, events.StatusCreated, d.ProjectID, "status", fmt.Sprint(d.ID), actorID, events.EventPayload{
		"object_type": d.ObjectType,
		"name":        d.Name,
		"category":    d.Category.String(),
	}); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	return d, nil
}

// StatusUpdateOptions changes the non-nil attributes of status ID. The owning
// project and object type are fixed.
type StatusUpdateOptions struct {
	ID                  int64
	Name                *string
	Category            *domain.StatusCategory
	Color               *string
	Remark              *string
	TransferTo          *[]int64
	CheckFieldList      *[]int64
	PermissionOwnerList *[]string
	SetOwnerList        *[]string
	ActorID             string
}

func (e Engine) UpdateStatus(ctx context.Context, opts StatusUpdateOptions) (domain.StatusDefinition, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StatusDefinition{}, err
	}
	defer tx.Rollback()
	d, err := e.Repo.GetStatusDefinitionTx(ctx, tx, opts.ID)
	if err != nil {
		return d, err
	}
	before := d
	if opts.Name != nil {
		d.Name = strings.TrimSpace(*opts.Name)
	}
	if opts.Category != nil {
		d.Category = *opts.Category
	}
	if opts.Color != nil {
		d.Color = *opts.Color
	}
	if opts.Remark != nil {
		d.Remark = *opts.Remark
	}
	if opts.TransferTo != nil {
		d.TransferTo = *opts.TransferTo
	}
	if opts.CheckFieldList != nil {
		d.CheckFieldList = *opts.CheckFieldList
	}
	if opts.PermissionOwnerList != nil {
		if d.PermissionOwnerList, err = parseTokens("permission_owner_list", *opts.PermissionOwnerList); err != nil {
			return before, err
		}
	}
	if opts.SetOwnerList != nil {
		if d.SetOwnerList, err = parseTokens("set_owner_list", *opts.SetOwnerList); err != nil {
			return before, err
		}
	}
	d.UpdateAccountID = opts.ActorID
	d.UpdatedAt = e.stamp()
	if err := d.Validate(); err != nil {
		return before, err
	}
	if err := e.checkReferences(ctx, tx, d); err != nil {
		return before, err
	}
	if before.Category == domain.CategoryStart && d.Category != domain.CategoryStart {
		if err := e.keepStartStatus(ctx, tx, before); err != nil {
			return before, err
		}
	}
	if err := e.Repo.UpdateStatusDefinition(ctx, tx, d); err != nil {
		return before, err
	}
	if err := e.Events.Append(ctx, tx, events.StatusUpdated, d.ProjectID, "status", fmt.Sprint(d.ID), opts.ActorID, events.EventPayload{
		"old_name":        before.Name,
		"new_name":        d.Name,
		"old_transfer_to": before.TransferTo,
		"new_transfer_to": d.TransferTo,
	}); err != nil {
		return before, err
	}
	if err := tx.Commit(); err != nil {
		return before, err
	}
	return d, nil
}

// checkReferences verifies transfer targets and checked fields belong to the
// same project and object type as d.
func (e Engine) checkReferences(ctx context.Context, tx *sql.Tx, d domain.StatusDefinition) error {
	var errs domain.ValidationErrors
	for _, id := range d.TransferTo {
		if id == d.ID && d.ID != 0 {
			continue
		}
		target, err := e.Repo.GetStatusDefinitionTx(ctx, tx, id)
		if errors.Is(err, repo.ErrNotFound) {
			errs = append(errs, domain.FieldError{Field: "transfer_to", Reason: fmt.Sprintf("status %d does not exist", id)})
			continue
		}
		if err != nil {
			return err
		}
		if target.ProjectID != d.ProjectID || target.ObjectType != d.ObjectType {
			errs = append(errs, domain.FieldError{Field: "transfer_to", Reason: fmt.Sprintf("status %d belongs to %s/%s", id, target.ProjectID, target.ObjectType)})
		}
	}
	for _, id := range d.CheckFieldList {
		f, err := e.Repo.GetFieldDefinition(ctx, tx, id)
		if errors.Is(err, repo.ErrNotFound) {
			errs = append(errs, domain.FieldError{Field: "check_field_list", Reason: fmt.Sprintf("field %d does not exist", id)})
			continue
		}
		if err != nil {
			return err
		}
		if f.ProjectID != d.ProjectID || f.ObjectType != d.ObjectType {
			errs = append(errs, domain.FieldError{Field: "check_field_list", Reason: fmt.Sprintf("field %d belongs to %s/%s", id, f.ProjectID, f.ObjectType)})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// keepStartStatus fails when d is the last START status of its object type.
func (e Engine) keepStartStatus(ctx context.Context, tx *sql.Tx, d domain.StatusDefinition) error {
	n, err := e.Repo.CountStatusDefinitionsTx(ctx, tx, repo.StatusQuery{
		ProjectID:  d.ProjectID,
		ObjectType: d.ObjectType,
		Category:   domain.CategoryStart,
	})
	if err != nil {
		return err
	}
	if n <= 1 {
		return LastStartStatusError{ID: d.ID, ProjectID: d.ProjectID, ObjectType: d.ObjectType}
	}
	return nil
}

// DeleteStatus removes a status nothing refers to.
func (e Engine) DeleteStatus(ctx context.Context, id int64, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	d, err := e.Repo.GetStatusDefinitionTx(ctx, tx, id)
	if err != nil {
		return err
	}
	refs, err := e.Repo.StatusesTransferringTo(ctx, tx, id)
	if err != nil {
		return err
	}
	objects, err := e.Repo.CountObjectsInStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if len(refs) > 0 || objects > 0 {
		return StatusInUseError{ID: id, ReferencedBy: refs, Objects: objects}
	}
	if d.Category == domain.CategoryStart {
		if err := e.keepStartStatus(ctx, tx, d); err != nil {
			return err
		}
	}
	if err := e.Repo.DeleteStatusDefinition(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.StatusDeleted, d.ProjectID, "status", fmt.Sprint(id), actorID, events.EventPayload{"name": d.Name}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) GetStatus(ctx context.Context, id int64) (domain.StatusDefinition, error) {
	return e.Repo.GetStatusDefinition(ctx, id)
}

func (e Engine) QueryStatuses(ctx context.Context, q repo.StatusQuery) ([]domain.StatusDefinition, error) {
	return e.Repo.QueryStatusDefinitions(ctx, q)
}

func (e Engine) CreateField(ctx context.Context, f domain.FieldDefinition, actorID string) (domain.FieldDefinition, error) {
	if _, err := e.Repo.GetProject(ctx, f.ProjectID); err != nil {
		return f, err
	}
	f.Name = strings.TrimSpace(f.Name)
	if err := f.Validate(); err != nil {
		return f, err
	}
	f.CreatedAt = e.stamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return f, err
	}
	defer tx.Rollback()
	id, err := e.Repo.InsertFieldDefinition(ctx, tx, f)
	if err != nil {
		return f, err
	}
	f.ID = id
	if err := e.Events.Append(ctx, tx, events.FieldCreated, f.ProjectID, "field", fmt.Sprint(id), actorID, events.EventPayload{
		"object_type": f.ObjectType,
		"name":        f.Name,
	}); err != nil {
		return f, err
	}
	if err := tx.Commit(); err != nil {
		return f, err
	}
	return f, nil
}

func (e Engine) ListFields(ctx context.Context, projectID, objectType string) ([]domain.FieldDefinition, error) {
	return e.Repo.ListFieldDefinitions(ctx, nil, projectID, objectType)
}

// ObjectCreateOptions are parameters for creating a tracked object.
type ObjectCreateOptions struct {
	ProjectID  string
	ObjectType string
	Title      string
	// StatusID defaults to the first START status of the object type.
	StatusID int64
	OwnerID  string
	Fields   map[int64]string
	ActorID  string
}

// CreateObject stores a new object. Check-field and set-owner rules of the
// initial status are not applied.
func (e Engine) CreateObject(ctx context.Context, opts ObjectCreateOptions) (domain.TrackedObject, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.TrackedObject{}, domain.ValidationErrors{{Field: "title", Reason: "is required"}}
	}
	if opts.ObjectType == "" {
		return domain.TrackedObject{}, domain.ValidationErrors{{Field: "object_type", Reason: "is required"}}
	}
	if opts.ActorID == "" {
		return domain.TrackedObject{}, errors.New("actor_id required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.TrackedObject{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TrackedObject{}, err
	}
	defer tx.Rollback()

	statusID := opts.StatusID
	if statusID == 0 {
		starts, err := e.Repo.QueryStatusDefinitionsTx(ctx, tx, repo.StatusQuery{
			ProjectID:  opts.ProjectID,
			ObjectType: opts.ObjectType,
			Category:   domain.CategoryStart,
			Limit:      1,
		})
		if err != nil {
			return domain.TrackedObject{}, err
		}
		if len(starts) == 0 {
			return domain.TrackedObject{}, fmt.Errorf("object type %s has no START status: %w", opts.ObjectType, repo.ErrNotFound)
		}
		statusID = starts[0].ID
	} else {
		d, err := e.Repo.GetStatusDefinitionTx(ctx, tx, statusID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.TrackedObject{}, UnknownStatusError{ID: statusID}
		}
		if err != nil {
			return domain.TrackedObject{}, err
		}
		if d.ProjectID != opts.ProjectID || d.ObjectType != opts.ObjectType {
			return domain.TrackedObject{}, UnknownStatusError{ID: statusID}
		}
	}
	if err := e.checkFieldIDs(ctx, tx, opts.ProjectID, opts.ObjectType, opts.Fields); err != nil {
		return domain.TrackedObject{}, err
	}
	now := e.stamp()
	obj := domain.TrackedObject{
		ID:         uuid.NewString(),
		ProjectID:  opts.ProjectID,
		ObjectType: opts.ObjectType,
		Title:      strings.TrimSpace(opts.Title),
		StatusID:   statusID,
		OwnerID:    opts.OwnerID,
		CreatorID:  opts.ActorID,
		Fields:     compactFields(opts.Fields),
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.Auth.EnsureActor(ctx, tx, opts.ActorID); err != nil {
		return obj, err
	}
	if err := e.Repo.InsertObject(ctx, tx, obj); err != nil {
		return obj, err
	}
	if err := e.Events.Append(ctx, tx, events.ObjectCreated, obj.ProjectID, "object", obj.ID, opts.ActorID, events.EventPayload{
		"object_type": obj.ObjectType,
		"status_id":   obj.StatusID,
		"owner_id":    obj.OwnerID,
	}); err != nil {
		return obj, err
	}
	if err := tx.Commit(); err != nil {
		return obj, err
	}
	e.Metrics.ObserveObjectCreated(obj.ObjectType)
	return obj, nil
}

func compactFields(in map[int64]string) map[int64]string {
	var out map[int64]string
	for k, v := range in {
		if v == "" {
			continue
		}
		if out == nil {
			out = make(map[int64]string, len(in))
		}
		out[k] = v
	}
	return out
}

func (e Engine) checkFieldIDs(ctx context.Context, tx *sql.Tx, projectID, objectType string, fields map[int64]string) error {
	if len(fields) == 0 {
		return nil
	}
	defs, err := e.Repo.ListFieldDefinitions(ctx, tx, projectID, objectType)
	if err != nil {
		return err
	}
	known := make(map[int64]bool, len(defs))
	for _, f := range defs {
		known[f.ID] = true
	}
	var errs domain.ValidationErrors
	for id := range fields {
		if !known[id] {
			errs = append(errs, domain.FieldError{Field: "fields", Reason: fmt.Sprintf("field %d is not defined for %s", id, objectType)})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (e Engine) GetObject(ctx context.Context, id string) (domain.TrackedObject, error) {
	return e.Repo.GetObject(ctx, id)
}

func (e Engine) ListObjects(ctx context.Context, f repo.ObjectFilters) ([]domain.TrackedObject, error) {
	return e.Repo.ListObjects(ctx, f)
}

// SetFieldsRequest updates field values. An empty value clears a field.
// ExpectedVersion of zero skips the staleness check.
type SetFieldsRequest struct {
	ObjectID        string
	Fields          map[int64]string
	ActorID         string
	ExpectedVersion int64
}

func (e Engine) SetObjectFields(ctx context.Context, req SetFieldsRequest) (domain.TrackedObject, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TrackedObject{}, err
	}
	defer tx.Rollback()
	obj, err := e.Repo.GetObjectTx(ctx, tx, req.ObjectID)
	if err != nil {
		return obj, err
	}
	if req.ExpectedVersion != 0 && req.ExpectedVersion != obj.Version {
		return obj, fmt.Errorf("object %s is at version %d: %w", obj.ID, obj.Version, repo.ErrVersionConflict)
	}
	if err := e.checkFieldIDs(ctx, tx, obj.ProjectID, obj.ObjectType, req.Fields); err != nil {
		return obj, err
	}
	next := obj.Clone()
	if next.Fields == nil {
		next.Fields = map[int64]string{}
	}
	changed := make([]int64, 0, len(req.Fields))
	for id, v := range req.Fields {
		if v == "" {
			delete(next.Fields, id)
		} else {
			next.Fields[id] = v
		}
		changed = append(changed, id)
	}
	next.Fields = compactFields(next.Fields)
	next.Version = obj.Version + 1
	next.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateObjectCAS(ctx, tx, next, obj.Version, req.Fields); err != nil {
		return obj, err
	}
	if err := e.Events.Append(ctx, tx, events.ObjectFieldsSet, obj.ProjectID, "object", obj.ID, req.ActorID, events.EventPayload{
		"field_ids": changed,
		"version":   next.Version,
	}); err != nil {
		return obj, err
	}
	if err := tx.Commit(); err != nil {
		return obj, err
	}
	return next, nil
}

// TransitionRequest asks to move ObjectID into TargetStatusID on behalf of
// ActorID. ExpectedVersion of zero accepts whatever version is stored.
type TransitionRequest struct {
	ObjectID        string
	TargetStatusID  int64
	ActorID         string
	ExpectedVersion int64
}

// TransitionObject evaluates and persists a status move. A concurrent write
// between read and save yields repo.ErrVersionConflict; re-read and retry.
func (e Engine) TransitionObject(ctx context.Context, req TransitionRequest) (domain.TrackedObject, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TrackedObject{}, err
	}
	defer tx.Rollback()
	obj, err := e.Repo.GetObjectTx(ctx, tx, req.ObjectID)
	if err != nil {
		return obj, err
	}
	if req.ExpectedVersion != 0 && req.ExpectedVersion != obj.Version {
		e.Metrics.ObserveTransition(obj.ObjectType, "version_conflict")
		return obj, fmt.Errorf("object %s is at version %d: %w", obj.ID, obj.Version, repo.ErrVersionConflict)
	}
	defs, err := e.Repo.QueryStatusDefinitionsTx(ctx, tx, repo.StatusQuery{ProjectID: obj.ProjectID, ObjectType: obj.ObjectType})
	if err != nil {
		return obj, err
	}
	next, err := e.transitioner(tx).Transition(ctx, defs, obj.StatusID, req.TargetStatusID, req.ActorID, obj)
	if err != nil {
		e.Metrics.ObserveTransition(obj.ObjectType, Outcome(err))
		return obj, err
	}
	next.Version = obj.Version + 1
	next.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateObjectCAS(ctx, tx, next, obj.Version, nil); err != nil {
		e.Metrics.ObserveTransition(obj.ObjectType, Outcome(err))
		return obj, err
	}
	if err := e.Events.Append(ctx, tx, events.ObjectTransitioned, obj.ProjectID, "object", obj.ID, req.ActorID, events.EventPayload{
		"from_status": obj.StatusID,
		"to_status":   next.StatusID,
		"old_owner":   obj.OwnerID,
		"new_owner":   next.OwnerID,
		"version":     next.Version,
	}); err != nil {
		return obj, err
	}
	if err := tx.Commit(); err != nil {
		return obj, err
	}
	e.Metrics.ObserveTransition(obj.ObjectType, "ok")
	return next, nil
}

// CheckTransition reports whether TransitionObject would succeed, without
// saving anything.
func (e Engine) CheckTransition(ctx context.Context, objectID string, targetID int64, actorID string) error {
	obj, err := e.Repo.GetObject(ctx, objectID)
	if err != nil {
		return err
	}
	defs, err := e.Repo.QueryStatusDefinitions(ctx, repo.StatusQuery{ProjectID: obj.ProjectID, ObjectType: obj.ObjectType})
	if err != nil {
		return err
	}
	_, err = e.transitioner(nil).Transition(ctx, defs, obj.StatusID, targetID, actorID, obj)
	return err
}

// TransitionOption is one transfer target of an object's current status.
type TransitionOption struct {
	Status  domain.StatusDefinition
	Allowed bool
	Code    string
	Reason  string
}

// AvailableTransitions lists the current status' transfer targets in order,
// each marked with whether actorID could enter it now.
func (e Engine) AvailableTransitions(ctx context.Context, objectID, actorID string) ([]TransitionOption, error) {
	obj, err := e.Repo.GetObject(ctx, objectID)
	if err != nil {
		return nil, err
	}
	defs, err := e.Repo.QueryStatusDefinitions(ctx, repo.StatusQuery{ProjectID: obj.ProjectID, ObjectType: obj.ObjectType})
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]domain.StatusDefinition, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}
	current, ok := byID[obj.StatusID]
	if !ok {
		return nil, UnknownStatusError{ID: obj.StatusID}
	}
	tr := e.transitioner(nil)
	var out []TransitionOption
	for _, id := range current.TransferTo {
		target, ok := byID[id]
		if !ok {
			continue
		}
		opt := TransitionOption{Status: target, Allowed: true}
		if _, err := tr.ApplyTransition(ctx, current, target, actorID, obj); err != nil {
			opt.Allowed = false
			opt.Code = Outcome(err)
			opt.Reason = err.Error()
		}
		out = append(out, opt)
	}
	return out, nil
}

// Outcome classifies err for metrics and API error codes.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrMissingField):
		return "missing_required_field"
	case errors.Is(err, ErrUnknownStatus):
		return "unknown_status"
	case errors.Is(err, ErrOwnerUnresolved):
		return "owner_unresolved"
	case errors.Is(err, repo.ErrVersionConflict):
		return "version_conflict"
	default:
		return "error"
	}
}
