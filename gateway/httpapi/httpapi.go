// Package httpapi holds the json helpers shared by the http handlers.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/anyproto/any-sync/app/logger"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/quillpub/quill-server/quillclient/quillapi"
)

var log = logger.NewNamed("quill.httpapi")

var validate = validator.New(validator.WithRequiredStructEnabled())

const maxJSONBody = 1 << 20

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Warn("marshal response", zap.Error(err))
		return
	}
	_, _ = w.Write(data)
}

// StatusCode maps an error to its http status.
func StatusCode(err error) int {
	switch quillapi.Code(err) {
	case quillapi.ErrCodeNotFound:
		return http.StatusNotFound
	case quillapi.ErrCodeForbidden:
		return http.StatusForbidden
	case quillapi.ErrCodeConflict:
		return http.StatusConflict
	case quillapi.ErrCodeFailedPrecondition:
		return http.StatusPreconditionFailed
	case quillapi.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func WriteErr(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	resp := quillapi.Error{
		Error: err.Error(),
		Code:  quillapi.Code(err),
	}
	var countErr *quillapi.ChunkCountError
	if errors.As(err, &countErr) {
		resp.Expected = &countErr.Expected
		resp.Actual = &countErr.Actual
	}
	if status == http.StatusInternalServerError {
		log.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		resp.Error = quillapi.ErrUnexpected.Error()
	}
	WriteJSON(w, status, resp)
}

// ReadJSON decodes and validates the request body.
func ReadJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return quillapi.InvalidArgument("invalid json: %v", err)
	}
	return Validate(v)
}

func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return quillapi.InvalidArgument("%v", err)
	}
	return nil
}

// QueryInt reads an optional non-negative integer query parameter.
func QueryInt(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, quillapi.InvalidArgument("%s must be a non-negative integer", name)
	}
	return v, nil
}
