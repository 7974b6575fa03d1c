package engine

import (
	"context"
	"fmt"

	"statusflow/internal/events"
	"statusflow/internal/repo"
	"statusflow/internal/report"
)

// StatusReport gathers the statuses, fields and per-status object counts of
// one object type.
func (e Engine) StatusReport(ctx context.Context, projectID, objectType string) (report.StatusReport, error) {
	r := report.StatusReport{ProjectID: projectID, ObjectType: objectType, GeneratedAt: e.stamp()}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return r, err
	}
	defs, err := e.Repo.QueryStatusDefinitions(ctx, repo.StatusQuery{ProjectID: projectID, ObjectType: objectType})
	if err != nil {
		return r, err
	}
	if len(defs) == 0 {
		return r, fmt.Errorf("object type %s: %w", objectType, repo.ErrNotFound)
	}
	fields, err := e.Repo.ListFieldDefinitions(ctx, nil, projectID, objectType)
	if err != nil {
		return r, err
	}
	counts, err := e.Repo.CountObjectsByStatus(ctx, projectID)
	if err != nil {
		return r, err
	}
	r.Statuses = defs
	r.Fields = fields
	r.ObjectCounts = counts
	return r, nil
}

// RenderReport renders and publishes the workflow report of objectType and
// records a report.rendered event.
func (e Engine) RenderReport(ctx context.Context, rd *report.Renderer, projectID, objectType, actorID string) (report.Result, error) {
	r, err := e.StatusReport(ctx, projectID, objectType)
	if err != nil {
		return report.Result{}, err
	}
	res, err := rd.Render(ctx, r)
	if err != nil {
		return res, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, events.ReportRendered, projectID, "report", objectType, actorID, events.EventPayload{
		"statuses": len(r.Statuses),
		"inlined":  res.Stats.Inlined,
		"dropped":  res.Stats.Dropped,
		"location": res.Location,
	}); err != nil {
		return res, err
	}
	return res, tx.Commit()
}
