package server

import (
	"context"
	"encoding/json"
	"net/http"

	"oversounds/pkg/models"
)

// handleShowStorefront returns every product of the storefront. Upstream
// outages produce an empty list; only internal failures produce an Error.
func (ss *StoreServer) handleShowStorefront(w http.ResponseWriter, r *http.Request) {
	ss.writeProducts(w, r, ss.Products)
}

// writeProducts encodes the list before writing the status so that a product
// that cannot be serialized still yields a 500.
func (ss *StoreServer) writeProducts(w http.ResponseWriter, r *http.Request, build func(context.Context) ([]models.Product, error)) {
	products, err := build(r.Context())
	var body []byte
	if err == nil {
		body, err = json.Marshal(products)
	}
	if err != nil {
		ss.logger.WithError(err).WithField("request_id", requestIDFrom(r.Context())).Error("Storefront request failed")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		ss.respondJSON(w, models.Error{Code: "500", Message: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(append(body, '\n')); err != nil {
		ss.logger.WithError(err).Error("Failed to write response")
	}
}

// handleGetRuns lists the most recent storefront builds from the run log.
func (ss *StoreServer) handleGetRuns(w http.ResponseWriter, r *http.Request) {
	limit, verr := ss.validateRunLimit(r.URL.Query().Get("limit"))
	if verr != nil {
		ss.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	if ss.db == nil {
		ss.respondWithError(w, r, http.StatusNotFound, "Run log is disabled", nil)
		return
	}

	runs, err := ss.db.RecentRuns(r.Context(), limit)
	if err != nil {
		ss.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving runs", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	ss.respondJSON(w, runs)
}
