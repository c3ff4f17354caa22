package render

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// E.164: leading plus, country code, up to 15 digits total
var mobilePattern = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

func configureValidator(validate *validator.Validate) {
	_ = validate.RegisterValidation("mobile", validateMobile)
	_ = validate.RegisterValidation("subject_type", validateSubjectType)
	validate.RegisterTagNameFunc(useJSONTagNames)
}

func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

func validateMobile(fl validator.FieldLevel) bool {
	return mobilePattern.MatchString(fl.Field().String())
}

func validateSubjectType(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "admin", "customer":
		return true
	default:
		return false
	}
}
