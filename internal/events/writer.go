package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	ProjectInit        = "project.init"
	StatusCreated      = "status.created"
	StatusUpdated      = "status.updated"
	StatusDeleted      = "status.deleted"
	FieldCreated       = "field.created"
	ObjectCreated      = "object.created"
	ObjectFieldsSet    = "object.fields.set"
	ObjectTransitioned = "object.transitioned"
	RoleGranted        = "rbac.role.granted"
	RoleRevoked        = "rbac.role.revoked"
	ReportRendered     = "report.rendered"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records one event inside tx. Entity ids are stored as text.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
