// Package validators decodes and checks request input, returning
// pkg/errors values the response writer understands.
package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
)

// MaxBodyBytes caps JSON request bodies. A full profile sync with its
// posts is the largest legitimate payload.
const MaxBodyBytes = 8 << 20

var validate = func() *validator.Validate {
	v := validator.New()
	// report json names so clients see the field they sent
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	return v
}()

// DecodeJSONBody strictly decodes one JSON object into dest and runs its
// validate tags. Unknown fields, trailing data and oversized bodies fail.
func DecodeJSONBody(r *http.Request, dest any) error {
	body := http.MaxBytesReader(nil, r.Body, MaxBodyBytes)
	defer func() { _, _ = io.Copy(io.Discard, body) }()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return decodeError(err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return pkgerrors.New(pkgerrors.CodeValidation, "request body must contain a single JSON object")
	}

	var verrs validator.ValidationErrors
	switch err := validate.Struct(dest); {
	case err == nil:
		return nil
	case errors.As(err, &verrs):
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = describe(fe)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(fields)
	default:
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
}

func decodeError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return pkgerrors.New(pkgerrors.CodeValidation, "request body too large").
			WithDetails(map[string]any{"limit_bytes": tooLarge.Limit})
	}
	if errors.Is(err, io.EOF) {
		return pkgerrors.New(pkgerrors.CodeValidation, "request body is empty")
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").
		WithDetails(map[string]any{"error": err.Error()})
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "url", "http_url":
		return "must be a valid URL"
	case "uuid", "uuid4":
		return "must be a valid UUID"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "dive":
		return "contains an invalid element"
	}
	return "is invalid"
}

// Clean trims s and cuts it to at most maxRunes runes without splitting a
// UTF-8 sequence. maxRunes <= 0 disables the cut.
func Clean(s string, maxRunes int) string {
	s = strings.TrimSpace(s)
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	cut := 0
	for range maxRunes {
		_, size := utf8.DecodeRuneInString(s[cut:])
		cut += size
	}
	return strings.TrimSpace(s[:cut])
}
