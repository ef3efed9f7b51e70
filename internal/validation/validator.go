// NestLink - Family Presence and Location Relay
// Copyright 2026 NestLink Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nestlink/nestlink

// Package validation provides struct validation using go-playground/validator
// v10. Inbound socket payloads are validated here before reaching core logic,
// so handlers never see malformed data.
//
// The validator is a thread-safe singleton (struct metadata is cached across
// calls). Built-in tags cover the payload set: latitude, longitude, len,
// alphanum, gt, min, max, required.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is a single field validation failure with a translated message.
type FieldError struct {
	Field   string
	Tag     string
	Param   string
	Message string
}

// Error returns the human-readable message.
func (e *FieldError) Error() string {
	return e.Message
}

// PayloadError is a collection of field errors for one payload.
type PayloadError struct {
	fields []FieldError
}

// Fields returns the individual field errors.
func (pe *PayloadError) Fields() []FieldError {
	return pe.fields
}

// Error implements the error interface with all messages joined.
func (pe *PayloadError) Error() string {
	if len(pe.fields) == 0 {
		return "validation failed"
	}
	messages := make([]string, len(pe.fields))
	for i, fe := range pe.fields {
		messages[i] = fe.Message
	}
	return strings.Join(messages, "; ")
}

// getValidator returns the singleton validator instance.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Struct validates a payload struct. Returns nil on success or a
// *PayloadError describing every failing field.
func Struct(s interface{}) *PayloadError {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &PayloadError{fields: []FieldError{{
			Field:   "unknown",
			Tag:     "unknown",
			Message: err.Error(),
		}}}
	}

	fields := make([]FieldError, len(verrs))
	for i, fe := range verrs {
		fields[i] = FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: translate(fe),
		}
	}
	return &PayloadError{fields: fields}
}

// messageTemplates maps validation tags to message templates without params.
var messageTemplates = map[string]string{
	"required":  "%s is required",
	"latitude":  "%s must be a valid latitude (-90 to 90)",
	"longitude": "%s must be a valid longitude (-180 to 180)",
	"alphanum":  "%s must contain only letters and digits",
}

// messageTemplatesWithParam maps validation tags to templates with a param.
var messageTemplatesWithParam = map[string]string{
	"len": "%s must be exactly %s characters",
	"gt":  "%s must be greater than %s",
	"gte": "%s must be greater than or equal to %s",
	"min": "%s must be at least %s",
	"max": "%s must be at most %s",
}

// translate converts a validator.FieldError to a human-readable message.
func translate(fe validator.FieldError) string {
	field := fe.Field()
	if template, ok := messageTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(template, field)
	}
	if template, ok := messageTemplatesWithParam[fe.Tag()]; ok {
		return fmt.Sprintf(template, field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}
