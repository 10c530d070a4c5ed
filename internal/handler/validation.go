package handler

import (
	"errors"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"presence/internal/attendance"
)

var registerOnce sync.Once

// RegisterValidators adds the domain rules to gin's validator engine.
// Safe to call more than once.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("settable_status", func(fl validator.FieldLevel) bool {
			_, err := attendance.ParseSettable(fl.Field().String())
			return err == nil
		})
	})
}

// validationDetails maps each failed field to the rule it broke.
func validationDetails(err error) map[string]string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}
	out := make(map[string]string, len(ve))
	for _, fe := range ve {
		out[fe.Field()] = fe.Tag()
	}
	return out
}
