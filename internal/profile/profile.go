// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package profile persists named chat configurations and reusable prompt
// templates in JSON stores under the config home.
package profile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Profile is a named, reusable chat configuration.
type Profile struct {
	Name         string   `json:"name" validate:"required"`
	Models       []string `json:"models" validate:"required,min=1,dive,required"`
	Temperature  float64  `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens    int      `json:"max_tokens" validate:"gt=0"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
}

// Validate checks the profile invariants: at least one model, temperature
// in [0,2], positive max_tokens.
func (p Profile) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("invalid profile %q: %s", p.Name, strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	switch {
	case strings.HasPrefix(fe.Field(), "Models"):
		return "models must contain at least one non-empty id"
	case fe.Field() == "Name":
		return "name is required"
	case fe.Field() == "Temperature":
		return "temperature must be between 0 and 2"
	case fe.Field() == "MaxTokens":
		return "max_tokens must be positive"
	default:
		return fe.Error()
	}
}

// Resolved is the read-only configuration one chat session consumes. It is
// a deep copy: edits to the store after resolution never reach a running
// session, and switching profiles produces a fresh copy rather than
// rewriting recorded history.
type Resolved struct {
	Profile      string
	Models       []string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// resolved converts the profile to its session form, copying the model
// slice.
func (p Profile) resolved() Resolved {
	models := make([]string, len(p.Models))
	copy(models, p.Models)
	return Resolved{
		Profile:      p.Name,
		Models:       models,
		Temperature:  p.Temperature,
		MaxTokens:    p.MaxTokens,
		SystemPrompt: p.SystemPrompt,
	}
}
