package httpx

import "net/http"

// Shorthand problem responses for the error kinds the lifecycle surfaces.
// Handlers pick the response by inspecting the domain error; the domain
// packages stay free of HTTP concerns.

// BadRequest responds 400 for malformed or invalid input.
func BadRequest(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusBadRequest, "Validation Failed", detail)
}

// NotFound responds 404 for unknown ids.
func NotFound(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusNotFound, "Not Found", detail)
}

// Conflict responds 409 for assignment conflicts and invalid sheet states.
func Conflict(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusConflict, "Conflict", detail)
}

// Unprocessable responds 422 for status transitions outside the table.
func Unprocessable(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusUnprocessableEntity, "Invalid Transition", detail)
}

// Unavailable responds 503 for transient storage failures.
func Unavailable(w http.ResponseWriter, detail string) {
	Problem(w, http.StatusServiceUnavailable, "Temporarily Unavailable", detail)
}

// Internal responds 500 without leaking details.
func Internal(w http.ResponseWriter) {
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
