// Package httpapi contains the request/response helpers shared by every
// bodegad endpoint. Failures are always written as a bodegasdk.Response with
// one of the closed error codes.
package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/bodega-app/bodega/bodegasdk"
)

var validate *validator.Validate

// A single validator instance is used, because it caches struct parsing.
// Field names in validation errors come from the json tag so they match what
// the caller actually sent.
func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Write outputs a standardized JSON format to an HTTP response body.
func Write(rw http.ResponseWriter, status int, response interface{}) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(true)
	err := enc.Encode(response)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	_, err = rw.Write(buf.Bytes())
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
}

// Error writes a structured fault with the given status and closed error
// code.
func Error(rw http.ResponseWriter, status int, code bodegasdk.ErrorCode, message string) {
	Write(rw, status, bodegasdk.Response{
		Error:   code,
		Message: message,
	})
}

// InternalError writes a 500 fault carrying the underlying error message for
// diagnosis. Internal errors are never silently dropped.
func InternalError(rw http.ResponseWriter, err error) {
	Error(rw, http.StatusInternalServerError, bodegasdk.ErrorCodeInternal, err.Error())
}

// Read decodes JSON from the HTTP request into the value provided and runs
// its `validate` struct tags over it. On failure it writes a 400
// invalid-argument fault naming the offending fields, and returns false.
func Read(rw http.ResponseWriter, r *http.Request, value interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(value)
	if err != nil {
		Error(rw, http.StatusBadRequest, bodegasdk.ErrorCodeInvalidArgument, fmt.Sprintf("read body: %s", err.Error()))
		return false
	}
	err = validate.Struct(value)
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make([]string, 0, len(validationErrors))
		for _, validationError := range validationErrors {
			fields = append(fields, validationError.Field())
		}
		Error(rw, http.StatusBadRequest, bodegasdk.ErrorCodeInvalidArgument,
			fmt.Sprintf("%s are required", strings.Join(fields, ", ")))
		return false
	}
	if err != nil {
		InternalError(rw, fmt.Errorf("validation: %w", err))
		return false
	}
	return true
}
