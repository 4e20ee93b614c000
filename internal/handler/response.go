package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stylesync/quota-server-go/internal/auth"
	apperrors "github.com/stylesync/quota-server-go/internal/errors"
	"github.com/stylesync/quota-server-go/internal/httputil"
	"github.com/stylesync/quota-server-go/internal/middleware"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// decodeJSON reads a single JSON object from the body into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperrors.ValidationError("Request body too large")
		}
		return apperrors.ValidationError("Invalid request body")
	}
	return nil
}

// requireClaims returns the caller's claims or writes 401.
func requireClaims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return nil, false
	}
	return claims, true
}
