package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/kozaktomas/meter-lab/internal/constants"
)

// bindError is a malformed or invalid request payload.
type bindError struct {
	msg string
}

func (e *bindError) Error() string { return e.msg }

var (
	validateOnce sync.Once
	validate     *validator.Validate
	translator   ut.Translator
)

// getValidator returns the request validator, reporting fields by their json
// names with English messages.
func getValidator() (*validator.Validate, ut.Translator) {
	validateOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		translator, _ = uni.GetTranslator("en")

		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		_ = en_translations.RegisterDefaultTranslations(validate, translator)
	})
	return validate, translator
}

// validateRequest runs struct validation and flattens the first failure into
// a bindError.
func validateRequest(v any) error {
	val, trans := getValidator()
	err := val.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &bindError{msg: verrs[0].Translate(trans)}
	}
	return &bindError{msg: err.Error()}
}

// bindJSON decodes a single JSON object into dst and validates it. Unknown
// fields are rejected.
func bindJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, constants.MaxJSONBodySize)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &bindError{msg: "request body is empty"}
		}
		return &bindError{msg: fmt.Sprintf("%s: %v", errInvalidRequestBody, err)}
	}
	if dec.More() {
		return &bindError{msg: errInvalidRequestBody + ": multiple JSON values"}
	}
	return validateRequest(dst)
}

// readUpload returns the bytes of the multipart file field.
func readUpload(w http.ResponseWriter, r *http.Request, field string) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		return nil, &bindError{msg: "failed to parse multipart form"}
	}

	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, &bindError{msg: field + " is required"}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, &bindError{msg: "failed to read " + field}
	}
	if len(data) == 0 {
		return nil, &bindError{msg: field + " is empty"}
	}
	return data, nil
}
