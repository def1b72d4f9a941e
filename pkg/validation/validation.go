/*
 * Copyright 2024 The Collabd Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package validation provides validation of user input with translated
// error messages.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

const (
	// slugRegexString is the regular expression for identifier validation.
	// Group and document ids come in from the URL path and must stay opaque
	// but printable.
	slugRegexString = `^[a-zA-Z0-9\-._~]+$`
)

var (
	slugRegex = regexp.MustCompile(slugRegexString)

	// ErrKeyInvalid is returned when an identifier contains characters
	// outside the allowed set.
	ErrKeyInvalid = errors.New("id should be alphanumeric, -, _, ., ~")

	defaultValidator = validator.New()
	defaultEn        = en.New()
	uni              = ut.New(defaultEn, defaultEn)

	trans, _ = uni.GetTranslator(defaultEn.Locale())
)

// StructError is the error returned when struct validation fails. It
// carries one message per failed field.
type StructError struct {
	Violations []string
}

func (e StructError) Error() string {
	return strings.Join(e.Violations, "; ")
}

// ValidError is the error returned by ValidateValue.
type ValidError struct {
	Tag string
	Err error
}

func (e ValidError) Error() string {
	return e.Err.Error()
}

func registerValidation(tag string, fn func(fl validator.FieldLevel) bool) {
	if err := defaultValidator.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
}

func registerTranslation(tag, msg string) {
	if err := defaultValidator.RegisterTranslation(tag, trans, func(ut ut.Translator) error {
		if err := ut.Add(tag, msg, true); err != nil {
			return fmt.Errorf("add translation: %w", err)
		}
		return nil
	}, func(ut ut.Translator, fe validator.FieldError) string {
		t, _ := ut.T(tag, fe.Field())
		return t
	}); err != nil {
		panic(err)
	}
}

// ValidateValue validates the value with the tag.
func ValidateValue(v interface{}, tag string) error {
	if err := defaultValidator.Var(v, tag); err != nil {
		for _, e := range err.(validator.ValidationErrors) {
			return ValidError{
				Tag: e.Tag(),
				Err: e,
			}
		}
	}

	return nil
}

// ValidateStruct validates the struct according to its validate tags.
func ValidateStruct(v interface{}) error {
	if err := defaultValidator.Struct(v); err != nil {
		structErr := StructError{}
		for _, e := range err.(validator.ValidationErrors) {
			structErr.Violations = append(structErr.Violations, e.Translate(trans))
		}
		return structErr
	}

	return nil
}

func init() {
	registerValidation("slug", func(v validator.FieldLevel) bool {
		return slugRegex.MatchString(v.Field().String())
	})
	registerTranslation("slug", ErrKeyInvalid.Error())
}
