package core

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	// custom validation tags & texts
	identifierTag   = "identifier"
	identifierText  = "only alphanumeric characters, dashes, dots, colons and underscores are allowed"
	identifierRegex = regexp.MustCompile(`^[\w\-.:]{1,128}$`)

	requiredTag     = "required"
	requiredWithTag = "required_with"
	requiredText    = "this field is required"
)

// NewTranslator returns the english translator used to render validation errors.
func NewTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// InitValidators instantiates the validator for use.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON (or query) tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		tag := fld.Tag.Get("json")
		if tag == "" {
			tag = fld.Tag.Get("query")
		}
		name := strings.SplitN(tag, ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// register custom validators
	_ = validate.RegisterValidation(identifierTag, identifierValidation)
	RegisterCustomTranslation(validate, translator, identifierTag, identifierText)

	RegisterCustomTranslation(validate, translator, requiredTag, requiredText, true)
	RegisterCustomTranslation(validate, translator, requiredWithTag, requiredText, true)
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// Custom Global Validators

// identifierValidation only allows characters found in external ids (uuids, slugs, LMS keys).
func identifierValidation(fl validator.FieldLevel) bool {
	return identifierRegex.MatchString(fl.Field().String())
}
