package main

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/cabal-metrics/internal/security"
)

// apiError is the JSON body of every non-2xx API response.
type apiError struct {
	Error          string `json:"error"`
	Message        string `json:"message"`
	RetryAfter     string `json:"retryAfter,omitempty"`
	InvalidWallets []any  `json:"invalidWallets,omitempty"`
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("Failed to encode response")
	}
}

// writeSigned writes v as JSON and, when a signer is configured, attaches the
// signature of the exact body bytes.
func (s *Server) writeSigned(w http.ResponseWriter, r *http.Request, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		logrus.WithError(err).Error("Failed to marshal response")
		s.errorResponse(w, r, http.StatusInternalServerError, apiError{
			Error:   "Internal server error",
			Message: "Failed to encode response.",
		})
		return
	}

	if s.signer != nil {
		sig, err := s.signer.Sign(body)
		if err != nil {
			logrus.WithError(err).Warn("Failed to sign response")
		} else {
			w.Header().Set(security.HeaderSignature, sig)
			w.Header().Set(security.HeaderSigner, s.signer.PublicKey())
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// errorResponse logs and writes an API error.
func (s *Server) errorResponse(w http.ResponseWriter, r *http.Request, status int, body apiError) {
	logrus.WithFields(logrus.Fields{
		"request_id": requestID(r.Context()),
		"path":       r.URL.Path,
		"status":     status,
	}).Warn(body.Error)

	writeJSON(w, status, body)
}
