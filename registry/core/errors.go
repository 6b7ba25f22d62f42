package core

import (
	"errors"
	"fmt"
)

// ErrNothingToUpdate signals a requested change that matches current state.
// Callers report "nothing to update" and no audit event is emitted.
var ErrNothingToUpdate = errors.New("nothing to update")

// NotFoundError is returned when a referenced package, collection, or listing
// does not exist.
type NotFoundError struct {
	Kind string
	Name string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%v %v not found", e.Kind, e.Name)
}

// InvalidActorError is returned when a proposed point of contact or acl
// holder fails validation.
type InvalidActorError struct {
	Candidate string
	Reason    string
}

func (e InvalidActorError) Error() string {
	return fmt.Sprintf("invalid point of contact %v: %v", e.Candidate, e.Reason)
}

// NotAuthorizedError is returned when the actor lacks the role or ownership
// relationship a transition requires.
type NotAuthorizedError struct {
	Actor  string
	Reason string
}

func (e NotAuthorizedError) Error() string {
	return fmt.Sprintf("%v is not allowed to do this: %v", e.Actor, e.Reason)
}

// InvalidTransitionError is returned when the requested status or acl-kind
// combination violates a structural rule.
type InvalidTransitionError struct {
	Reason string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %v", e.Reason)
}

// ExternalServiceError is returned when a collaborator call (bugzilla,
// account system) fails. For post-commit hooks the entity mutation has
// already been applied; callers should report partial success.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e ExternalServiceError) Error() string {
	return fmt.Sprintf("%v call failed: %v", e.Service, e.Err)
}

func (e ExternalServiceError) Unwrap() error {
	return e.Err
}
