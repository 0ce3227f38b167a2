package corecmd

import "github.com/go-playground/validator/v10"

var validate = validator.New()

// Validate checks cmd's struct tags (e.g. AddCmd.ID, DeleteCmd.ID
// "required") and wraps any failure as a BadRequestError, mirroring
// internal/api/middleware/validation.go's ValidateStruct.
func Validate(cmd any) error {
	if err := validate.Struct(cmd); err != nil {
		return &BadRequestError{Reason: "command failed validation", Cause: err}
	}
	return nil
}
