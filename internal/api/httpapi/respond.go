package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/BearBump/RelayBox/internal/apperr"
	"github.com/BearBump/RelayBox/internal/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, log *logger.Logger, w http.ResponseWriter, err error) {
	typed := apperr.As(err)
	if typed == nil {
		typed = apperr.Internal(err)
	}
	meta := apperr.MetadataFor(typed.Code())
	if meta.HTTPStatus >= http.StatusInternalServerError {
		log.Error(log.WithField(ctx, "error_code", string(typed.Code())), "request.error", err)
	}
	writeJSON(w, meta.HTTPStatus, errorBody{Error: typed.Message(), Code: string(typed.Code())})
}

// decodeBody reads an optional-or-required JSON body into dest and runs the
// struct validation. An empty body leaves dest untouched when optional.
func decodeBody(r *http.Request, dest any, optional bool) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apperr.Validation("cannot read request body")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		if optional {
			return nil
		}
		return apperr.Validation("request body is required")
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return apperr.Validationf("invalid request body: %v", err)
	}
	if err := validate.Struct(dest); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return apperr.Validation("validation failed")
	}
	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return apperr.Validationf("%s is required", fe.Field())
	case "uuid":
		return apperr.Validationf("%s must be a valid id", fe.Field())
	case "gte", "lte":
		return apperr.Validationf("%s is out of range", fe.Field())
	}
	return apperr.Validationf("%s is invalid", fe.Field())
}

func pathID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Validation(fmt.Sprintf("invalid id %q", raw))
	}
	return id, nil
}
