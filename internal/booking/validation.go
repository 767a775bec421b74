package booking

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"scheduler-service/internal/model"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateCreate(req CreateRequest) error {
	verr := &model.ValidationError{}
	var fieldErrs validator.ValidationErrors
	if err := validate.Struct(req); errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			verr.Add(fe.Field(), message(fe))
		}
	} else if err != nil {
		return err
	}
	if req.Start.IsZero() {
		verr.Add("start_at_utc", "is required")
	}
	return verr.OrNil()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gte":
		return "must be at least " + fe.Param()
	default:
		return "is invalid"
	}
}
