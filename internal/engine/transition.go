package engine

import (
	"context"

	"statusflow/internal/domain"
	"statusflow/internal/engine/auth"
)

// Transitioner evaluates status moves against a read-only snapshot of status
// definitions. It never persists anything.
type Transitioner struct {
	Resolver auth.Resolver
}

// CanTransition checks, in order: transfer legality, the actor's permission
// to leave current, and the fields target requires. The first failure wins.
func (t Transitioner) CanTransition(ctx context.Context, current, target domain.StatusDefinition, actorID string, obj domain.TrackedObject) error {
	if !current.CanTransferTo(target.ID) {
		return IllegalTransitionError{From: current.ID, To: target.ID}
	}
	ok, err := t.permitted(ctx, current, actorID, obj)
	if err != nil {
		return err
	}
	if !ok {
		return PermissionDeniedError{StatusID: current.ID, ActorID: actorID}
	}
	var missing []int64
	for _, id := range target.CheckFieldList {
		if !obj.HasField(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return MissingRequiredFieldError{StatusID: target.ID, FieldIDs: missing}
	}
	return nil
}

func (t Transitioner) permitted(ctx context.Context, current domain.StatusDefinition, actorID string, obj domain.TrackedObject) (bool, error) {
	if len(current.PermissionOwnerList) == 0 {
		return true, nil
	}
	if actorID == "" {
		return false, nil
	}
	for _, tok := range current.PermissionOwnerList {
		accounts, err := auth.ResolveToken(ctx, t.Resolver, tok, obj)
		if err != nil {
			return false, err
		}
		for _, a := range accounts {
			if a == actorID {
				return true, nil
			}
		}
	}
	return false, nil
}

// ApplyTransition returns a copy of obj moved into target. On error the
// returned object equals obj. obj itself is never modified.
func (t Transitioner) ApplyTransition(ctx context.Context, current, target domain.StatusDefinition, actorID string, obj domain.TrackedObject) (domain.TrackedObject, error) {
	if err := t.CanTransition(ctx, current, target, actorID, obj); err != nil {
		return obj, err
	}
	next := obj.Clone()
	next.StatusID = target.ID
	if len(target.SetOwnerList) > 0 {
		owner, err := t.resolveOwner(ctx, target, obj)
		if err != nil {
			return obj, err
		}
		next.OwnerID = owner
	}
	return next, nil
}

// resolveOwner walks the set-owner list in order and returns the lowest
// account id of the first token that names someone other than the prior
// owner. The owner token is skipped since it can only name the prior owner.
// When every resolving token names only the prior owner, ownership stays.
func (t Transitioner) resolveOwner(ctx context.Context, target domain.StatusDefinition, obj domain.TrackedObject) (string, error) {
	keep := false
	for _, tok := range target.SetOwnerList {
		if tok.Kind == domain.TokenOwner {
			continue
		}
		accounts, err := auth.ResolveToken(ctx, t.Resolver, tok, obj)
		if err != nil {
			return "", err
		}
		for _, a := range accounts {
			if a != obj.OwnerID {
				return a, nil
			}
			keep = true
		}
	}
	if keep {
		return obj.OwnerID, nil
	}
	return "", OwnerUnresolvedError{StatusID: target.ID, Tokens: target.SetOwnerList.Strings()}
}

// Transition looks both ids up in defs and applies the move.
func (t Transitioner) Transition(ctx context.Context, defs []domain.StatusDefinition, currentID, targetID int64, actorID string, obj domain.TrackedObject) (domain.TrackedObject, error) {
	current, target, err := lookupPair(defs, currentID, targetID)
	if err != nil {
		return obj, err
	}
	return t.ApplyTransition(ctx, current, target, actorID, obj)
}

func lookupPair(defs []domain.StatusDefinition, currentID, targetID int64) (domain.StatusDefinition, domain.StatusDefinition, error) {
	var current, target *domain.StatusDefinition
	for i := range defs {
		if defs[i].ID == currentID {
			current = &defs[i]
		}
		if defs[i].ID == targetID {
			target = &defs[i]
		}
	}
	if current == nil {
		return domain.StatusDefinition{}, domain.StatusDefinition{}, UnknownStatusError{ID: currentID}
	}
	if target == nil {
		return domain.StatusDefinition{}, domain.StatusDefinition{}, UnknownStatusError{ID: targetID}
	}
	return *current, *target, nil
}
