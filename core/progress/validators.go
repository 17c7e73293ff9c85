package progress

import (
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/suivi/core"
)

var (
	contentTypeTag  = "contenttype"
	contentTypeText = "unknown content type, expected one of: " + contentTypeNames()

	statusHintTag  = "statushint"
	statusHintText = "unknown status hint, expected one of: " + strings.Join(StatusHints, ", ")
)

func contentTypeNames() string {
	names := make([]string, 0, len(ContentTypes))
	for _, ct := range ContentTypes {
		names = append(names, ct.String())
	}
	return strings.Join(names, ", ")
}

// InitValidators registers the validation tags of progress requests.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(contentTypeTag, contentTypeValidation)
	core.RegisterCustomTranslation(validate, translator, contentTypeTag, contentTypeText)

	_ = validate.RegisterValidation(statusHintTag, statusHintValidation)
	core.RegisterCustomTranslation(validate, translator, statusHintTag, statusHintText)
}

// Custom Validators

func contentTypeValidation(fl validator.FieldLevel) bool {
	_, err := ParseContentType(fl.Field().String())
	return err == nil
}

func statusHintValidation(fl validator.FieldLevel) bool {
	hint := fl.Field().String()
	for _, h := range StatusHints {
		if hint == h {
			return true
		}
	}
	return false
}
