package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrIllegalTransition matches any IllegalTransitionError via errors.Is.
	ErrIllegalTransition = errors.New("illegal transition")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrMissingField      = errors.New("missing required field")
	ErrUnknownStatus     = errors.New("unknown status")
	// ErrOwnerUnresolved is returned when a status has a set-owner list but
	// none of its tokens names an account.
	ErrOwnerUnresolved = errors.New("owner unresolved")
)

type IllegalTransitionError struct {
	From int64
	To   int64
}

func (e IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition %d -> %d", e.From, e.To)
}

func (e IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }

type PermissionDeniedError struct {
	StatusID int64
	ActorID  string
}

func (e PermissionDeniedError) Error() string {
	return fmt.Sprintf("actor %s may not move objects out of status %d", e.ActorID, e.StatusID)
}

func (e PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }

// MissingRequiredFieldError lists every unset field in check-list order.
type MissingRequiredFieldError struct {
	StatusID int64
	FieldIDs []int64
}

func (e MissingRequiredFieldError) Error() string {
	ids := make([]string, 0, len(e.FieldIDs))
	for _, id := range e.FieldIDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	return fmt.Sprintf("status %d requires fields [%s]", e.StatusID, strings.Join(ids, ","))
}

func (e MissingRequiredFieldError) Is(target error) bool { return target == ErrMissingField }

type UnknownStatusError struct {
	ID int64
}

func (e UnknownStatusError) Error() string {
	return fmt.Sprintf("unknown status %d", e.ID)
}

func (e UnknownStatusError) Is(target error) bool { return target == ErrUnknownStatus }

type OwnerUnresolvedError struct {
	StatusID int64
	Tokens   []string
}

func (e OwnerUnresolvedError) Error() string {
	return fmt.Sprintf("status %d: no account resolved from [%s]", e.StatusID, strings.Join(e.Tokens, ","))
}

func (e OwnerUnresolvedError) Is(target error) bool { return target == ErrOwnerUnresolved }

var ErrStatusInUse = errors.New("status in use")

// StatusInUseError blocks deleting a status that other statuses transfer to
// or that tracked objects currently sit in.
type StatusInUseError struct {
	ID           int64
	ReferencedBy []int64
	Objects      int
}

func (e StatusInUseError) Error() string {
	return fmt.Sprintf("status %d is referenced by %d statuses and %d objects", e.ID, len(e.ReferencedBy), e.Objects)
}

func (e StatusInUseError) Is(target error) bool { return target == ErrStatusInUse }

var ErrLastStartStatus = errors.New("last start status")

// LastStartStatusError blocks demoting or deleting the only START status of
// an object type, which would leave new objects nowhere to begin.
type LastStartStatusError struct {
	ID         int64
	ProjectID  string
	ObjectType string
}

func (e LastStartStatusError) Error() string {
	return fmt.Sprintf("status %d is the only START status of %s/%s", e.ID, e.ProjectID, e.ObjectType)
}

func (e LastStartStatusError) Is(target error) bool { return target == ErrLastStartStatus }
