package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// url is only meaningful for archive submissions
	v.RegisterStructValidation(submitRequestStructValidation, SubmitRequest{})

	return v
}

func submitRequestStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(SubmitRequest)
	if req.URL != "" && req.Verb != "archive" {
		sl.ReportError(req.URL, "url", "URL", "url_archive_only", "url is only accepted for archive requests")
	}
}
