package rest

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/bwise1/pothole_watch/util"
	"github.com/bwise1/pothole_watch/util/tracing"
)

// ServerResponse is the envelope of every API response.
type ServerResponse struct {
	Status     string      `json:"status"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
	StatusCode int         `json:"-"`
}

func respondWithError(err error, message, status string, tc *tracing.Context) *ServerResponse {
	if tc != nil {
		log.Printf("[API]: %s: %v (%s)", message, err, tc)
	} else {
		log.Printf("[API]: %s: %v", message, err)
	}
	return &ServerResponse{
		Status:     status,
		Message:    message,
		StatusCode: util.StatusCode(status),
	}
}

func writeJSONResponse(w http.ResponseWriter, body []byte, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		log.Printf("[API]: unable to write response: %v", err)
	}
}

func writeErrorResponse(w http.ResponseWriter, err error, status, message string) {
	log.Printf("[API]: %s: %v", message, err)
	body, _ := json.Marshal(ServerResponse{Status: status, Message: message})
	writeJSONResponse(w, body, util.StatusCode(status))
}
