package response

import (
	"encoding/json"
	"net/http"
)

type ResponseWriter interface {
	Write(w http.ResponseWriter)
	WriteError(w http.ResponseWriter, status int)
}

// JSONResponse is the body of every error and plain message.
type JSONResponse struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

func (r *JSONResponse) Write(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, r)
}

func (r *JSONResponse) WriteError(w http.ResponseWriter, status int) {
	writeJSON(w, status, r)
}

// DataResponse wraps any JSON encodable value.
type DataResponse struct {
	Data interface{}
}

func (r *DataResponse) Write(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, r.Data)
}

func (r *DataResponse) WriteError(w http.ResponseWriter, status int) {
	writeJSON(w, status, r.Data)
}

func NewJSONResponse(message string) ResponseWriter {
	return &JSONResponse{Message: message}
}

// Convenience functions for common patterns
func JSON(message string) ResponseWriter {
	return NewJSONResponse(message)
}

func Error(code, message string) ResponseWriter {
	return &JSONResponse{Code: code, Message: message}
}

func Data(v interface{}) ResponseWriter {
	return &DataResponse{Data: v}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
