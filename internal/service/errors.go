package service

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrEmptyCart        = errors.New("cart is empty")
	ErrCartTypeConflict = errors.New("cart holds items of another type; clear the cart to continue")
	ErrInvalidItemType  = errors.New("unknown item type")
	ErrCouponsDisabled  = errors.New("discount coupons are disabled")
	ErrStepMismatch     = errors.New("checkout is not at the expected step")
	ErrNoPreviousStep   = errors.New("checkout has no previous step")
	ErrAddressSave      = errors.New("could not save address")
	ErrPaymentPending   = errors.New("no payment awaiting an order for this session")
	ErrPaidOrderPending = errors.New("a captured payment is awaiting its order; retry the order instead of paying again")
	ErrCheckoutNotOpen  = errors.New("checkout is not open for this session")
	ErrOrderNotFound    = errors.New("order not found")
)

// ValidationError reports field-specific input problems
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func fieldError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// validateStruct runs struct tags and converts failures to a ValidationError
func validateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err
	}

	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			fields[fe.Field()] = "is required"
		case "email":
			fields[fe.Field()] = "must be a valid email address"
		default:
			fields[fe.Field()] = fmt.Sprintf("failed %s validation", fe.Tag())
		}
	}
	return &ValidationError{Fields: fields}
}
