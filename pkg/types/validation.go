package types

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// FUNCTIONAL DISCOVERY: identifiers end up in URL path segments, so slashes
// and whitespace are rejected; meeting IDs are numeric and fit the same rule
var identifierRegex = regexp.MustCompile(`^[^\s/]+$`)

var (
	Validate   *validator.Validate
	Translator ut.Translator
)

func init() {
	Validate = validator.New()

	english := en.New()
	uni := ut.New(english, english)
	Translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(Validate, Translator)

	// Report JSON field names instead of Go struct names.
	Validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// IsValidIdentifier checks room keys and student IDs.
func IsValidIdentifier(id string) bool {
	if len(id) < 1 || len(id) > 100 {
		return false
	}
	return identifierRegex.MatchString(id)
}

// ValidateStudentID returns ErrInvalidStudentID for malformed IDs.
func ValidateStudentID(id string) error {
	if !IsValidIdentifier(id) {
		return ErrInvalidStudentID
	}
	return nil
}

// ValidateRoomKey returns ErrInvalidRoomKey for malformed keys.
func ValidateRoomKey(key string) error {
	if !IsValidIdentifier(key) {
		return ErrInvalidRoomKey
	}
	return nil
}

// Validate runs struct-tag validation on the answer features.
func (f *AnswerFeatures) Validate() error {
	return Validate.Struct(f)
}

func (a *Answer) Validate() error {
	return Validate.Struct(a)
}

func (q *Question) Validate() error {
	return Validate.Struct(q)
}

// FieldErrors flattens validator errors into json-field -> message pairs.
// Returns nil when err is not a validation error.
func FieldErrors(err error) map[string]string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Translate(Translator)
	}
	return out
}
