package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

const (
	kindValidation = "validation_failed"
	kindDecoding   = "decoding_failed"
	kindService    = "service_error"
)

var validate = validator.New()

func init() {
	configureValidator(validate)
}

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func JSON(w http.ResponseWriter, data any) {
	write(w, http.StatusOK, data)
}

func ServiceError(w http.ResponseWriter, message string, code int) {
	write(w, code, errorBody{Error: kindService, Message: message})
}

// Generic 401, rejection reason stays on the server
func Unauthorized(w http.ResponseWriter) {
	ServiceError(w, "Unauthorized", http.StatusUnauthorized)
}

func DecodeError(w http.ResponseWriter, err error) {
	message := "Failed to parse JSON: " + err.Error()

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		message = fmt.Sprintf("Invalid data type for field '%s'", typeErr.Field)
	}

	write(w, http.StatusBadRequest, errorBody{Error: kindDecoding, Message: message})
}

func ValidationErrors(w http.ResponseWriter, errs validator.ValidationErrors) {
	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		fields[fe.Field()] = fieldMessage(fe)
	}

	write(w, http.StatusBadRequest, errorBody{
		Error:   kindValidation,
		Message: "Request validation failed",
		Fields:  fields,
	})
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return fmt.Sprintf("Value is too short (minimum %s)", fe.Param())
	case "max":
		return fmt.Sprintf("Value is too long (maximum %s)", fe.Param())
	case "mobile":
		return "Mobile number must be in international format, like +15551234567"
	case "oneof":
		return "Value must be one of: " + fe.Param()
	case "subject_type":
		return "Value must be one of: admin customer"
	default:
		return "Invalid value"
	}
}

// BindAndValidate decodes the JSON body into T and checks its validate tags.
// On failure the 400 response is already written and the error is returned to stop the handler.
func BindAndValidate[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	var value T

	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		DecodeError(w, err)
		return value, err
	}

	err := validate.Struct(value)
	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		ValidationErrors(w, errs)
		return value, err
	}
	if err != nil {
		ServiceError(w, "Invalid request", http.StatusBadRequest)
		return value, err
	}

	return value, nil
}

func write(w http.ResponseWriter, code int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}
