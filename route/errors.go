package route

import (
	"net/http"
)

// apiError is an error response of the status endpoint. Only public messages
// reach the client, optionally followed by the cause.
type apiError struct {
	status    int
	msg       string
	public    bool
	withCause bool
}

const genericErrorMessage = "internal error"

var (
	ErrMissingName     = apiError{http.StatusBadRequest, "missing name query parameter", true, false}
	ErrUnknownKind     = apiError{http.StatusNotFound, "unknown normalizer", true, true}
	ErrUnknownFormat   = apiError{http.StatusBadRequest, "unsupported format", true, true}
	ErrJSONBuildFailed = apiError{http.StatusInternalServerError, "failed to build response", true, false}
	ErrCaughtPanic     = apiError{http.StatusInternalServerError, "caught panic", false, false}
)

func (e apiError) message(cause error) string {
	switch {
	case !e.public:
		return genericErrorMessage
	case e.withCause && cause != nil:
		return e.msg + ": " + cause.Error()
	default:
		return e.msg
	}
}

func (r *Router) handlerReturnWithError(w http.ResponseWriter, e apiError, cause error) {
	entry := r.Logger.Error().WithField("status", e.status)
	if cause != nil {
		entry = entry.WithField("error", cause.Error())
	}
	entry.Logf("status request failed: %s", e.msg)

	w.WriteHeader(e.status)
	body, _ := json.Marshal(map[string]string{"error": e.message(cause)})
	w.Write(body)
}
