package validator

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

// registerCustomTranslations registers translations for custom validation rules.
func (v *Validator) registerCustomTranslations() {
	if trans := v.GetTranslator(LangEN); trans != nil {
		for tag, message := range map[string]string{
			TagNotBlank: "{0} must not be blank",
			TagBookID:   "{0} must be a printable identifier without slashes (at most 512 bytes)",
		} {
			registerTranslation(v.validate, trans, tag, message)
		}
	}

	if trans := v.GetTranslator(LangZH); trans != nil {
		for tag, message := range map[string]string{
			TagNotBlank: "{0}不能为空白",
			TagBookID:   "{0}必须是不含斜杠的可打印标识（不超过512字节）",
		} {
			registerTranslation(v.validate, trans, tag, message)
		}
	}
}

// registerTranslation registers a single translation.
func registerTranslation(validate *validator.Validate, trans ut.Translator, tag, message string) {
	_ = validate.RegisterTranslation(tag, trans,
		func(ut ut.Translator) error {
			return ut.Add(tag, message, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(tag, fe.Field())
			return t
		},
	)
}

// RegisterTranslation registers a single translation override.
func (v *Validator) RegisterTranslation(lang, tag, message string) {
	trans := v.GetTranslator(lang)
	if trans == nil {
		return
	}

	registerTranslation(v.validate, trans, tag, message)
}
