package services

import (
	"errors"
	"log/slog"
	"net/http"

	"pkgregistry/registry/core"
	"pkgregistry/utils"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(err error, code int) error {
	return &codedError{err: err, code: code}
}

func GetResponseCode(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}
	slog.Error("non coded error passed to GetResponseCode", "error", err)
	return http.StatusInternalServerError
}

type messageResponse struct {
	Message string `json:"message"`
	Warning string `json:"warning,omitempty"`
}

// writeCoreResult maps an engine result onto the response. Guard failures
// carry the offending rule in their message; an external-service failure
// after a committed mutation is reported as partial success.
func writeCoreResult(w http.ResponseWriter, err error, success string) {
	if err == nil {
		utils.WriteJsonResponse(w, messageResponse{Message: success})
		return
	}

	if errors.Is(err, core.ErrNothingToUpdate) {
		utils.WriteJsonResponse(w, messageResponse{Message: "nothing to update"})
		return
	}

	var external core.ExternalServiceError
	if errors.As(err, &external) {
		// Bugzilla sync runs after the commit, so the mutation stands and
		// the caller sees partial success. Account-system failures happen
		// during guard checks, before any write.
		if external.Service == "bugzilla" {
			utils.WriteJsonResponse(w, messageResponse{
				Message: success,
				Warning: external.Error(),
			})
			return
		}
		http.Error(w, external.Error(), http.StatusBadGateway)
		return
	}

	http.Error(w, err.Error(), coreErrorCode(err))
}

func coreErrorCode(err error) int {
	var (
		notFound      core.NotFoundError
		invalidActor  core.InvalidActorError
		notAuthorized core.NotAuthorizedError
		invalid       core.InvalidTransitionError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &notAuthorized):
		return http.StatusForbidden
	case errors.As(err, &invalidActor), errors.As(err, &invalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
