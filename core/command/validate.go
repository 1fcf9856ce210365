package command

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			switch name {
			case "-":
				return ""
			case "":
				return f.Name
			}
			return name
		})
	})
	return validate
}

// FieldError is one failed constraint of a command field.
type FieldError struct {
	Field string
	Tag   string
	Param string
}

func (f FieldError) String() string {
	if f.Param != "" {
		return fmt.Sprintf("%s (%s=%s)", f.Field, f.Tag, f.Param)
	}
	return fmt.Sprintf("%s (%s)", f.Field, f.Tag)
}

// NotValidError lists every field of Command that failed validation.
type NotValidError struct {
	Command any
	Fields  []FieldError
}

func (e *NotValidError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("command %s not valid: %s", kindName(e.Command), strings.Join(parts, ", "))
}

// Validate checks the `validate` struct tags of cmd. Non-struct commands are
// always valid.
func Validate(cmd any) error {
	err := validatorInstance().Struct(cmd)
	if err == nil {
		return nil
	}
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Tag: fe.Tag(), Param: fe.Param()})
	}
	return &NotValidError{Command: cmd, Fields: fields}
}
