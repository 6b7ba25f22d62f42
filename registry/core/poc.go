package core

import (
	"errors"
	"fmt"
	"strings"

	"pkgregistry/registry/fas"
	"pkgregistry/registry/schema"
)

// ValidatePointOfContact checks that a candidate may hold a package: the
// orphan sentinel, a current member of the packager group, or a registered
// package-maintaining group whose name carries the required suffix.
func (e *Engine) ValidatePointOfContact(candidate string) error {
	if candidate == schema.PoCOrphan {
		return nil
	}

	if group, ok := schema.GroupName(candidate); ok {
		return e.validateGroup(candidate, group)
	}

	packagers, err := e.dir.ListPackagerUsernames()
	if err != nil {
		return ExternalServiceError{Service: "account system", Err: err}
	}

	if _, ok := packagers[candidate]; !ok {
		return InvalidActorError{
			Candidate: candidate,
			Reason:    fmt.Sprintf("user %v is not in the packager group", candidate),
		}
	}

	return nil
}

func (e *Engine) validateGroup(candidate, group string) error {
	if !strings.HasSuffix(group, e.cfg.GroupSuffix) {
		return InvalidActorError{
			Candidate: candidate,
			Reason:    fmt.Sprintf("group names must end with %v", e.cfg.GroupSuffix),
		}
	}

	info, err := e.dir.LookupGroup(group)
	if err != nil {
		if errors.Is(err, fas.ErrGroupNotFound) {
			return InvalidActorError{
				Candidate: candidate,
				Reason:    fmt.Sprintf("group %v does not exist", group),
			}
		}
		return ExternalServiceError{Service: "account system", Err: err}
	}

	for _, groupType := range e.cfg.MaintainerGroupTypes {
		if info.GroupType == groupType {
			return nil
		}
	}

	return InvalidActorError{
		Candidate: candidate,
		Reason:    fmt.Sprintf("group %v is not registered to maintain packages", group),
	}
}
