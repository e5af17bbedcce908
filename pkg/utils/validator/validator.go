// Package validator wraps go-playground/validator with bilingual
// translations, custom rules for bookrag requests and a gin binding adapter.
//
// Usage:
//
//	v := validator.New(validator.WithTagName("binding"))
//	binding.Validator = v.Binding()
//
//	if errs := v.ValidateWithLang(req, validator.LangZH); errs != nil {
//	    return errs.First()
//	}
package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
	zhtranslations "github.com/go-playground/validator/v10/translations/zh"
)

// Supported languages.
const (
	LangEN = "en"
	LangZH = "zh"
)

// Validator 结构体校验器，并发安全。
type Validator struct {
	validate *validator.Validate
	uni      *ut.UniversalTranslator

	mu    sync.RWMutex
	trans map[string]ut.Translator
}

// Option configures a Validator.
type Option func(*Validator)

// WithTagName 设置校验标签名，gin 绑定使用 "binding"。
func WithTagName(name string) Option {
	return func(v *Validator) {
		v.validate.SetTagName(name)
	}
}

var (
	globalMu sync.RWMutex
	global   *Validator
)

// Global returns the process wide validator, creating it on first use.
func Global() *Validator {
	globalMu.RLock()
	v := global
	globalMu.RUnlock()
	if v != nil {
		return v
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New()
	}
	return global
}

// SetGlobal replaces the process wide validator.
func SetGlobal(v *Validator) {
	globalMu.Lock()
	global = v
	globalMu.Unlock()
}

// New creates a validator with English and Chinese translators and the
// custom rules registered.
func New(opts ...Option) *Validator {
	enLocale := en.New()
	uni := ut.New(enLocale, enLocale, zh.New())

	v := &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		uni:      uni,
		trans:    make(map[string]ut.Translator, 2),
	}
	for _, opt := range opts {
		opt(v)
	}

	// 错误中的字段名优先使用 json 标签，其次 form/uri 标签
	v.validate.RegisterTagNameFunc(fieldName)

	if t, ok := uni.GetTranslator(LangEN); ok {
		_ = entranslations.RegisterDefaultTranslations(v.validate, t)
		v.trans[LangEN] = t
	}
	if t, ok := uni.GetTranslator(LangZH); ok {
		_ = zhtranslations.RegisterDefaultTranslations(v.validate, t)
		v.trans[LangZH] = t
	}

	v.registerCustomRules()
	v.registerCustomTranslations()
	return v
}

func fieldName(f reflect.StructField) string {
	for _, tag := range []string{"json", "form", "uri"} {
		name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return f.Name
}

// Engine returns the underlying go-playground validator.
func (v *Validator) Engine() *validator.Validate {
	return v.validate
}

// GetTranslator returns the translator for lang, falling back to English.
func (v *Validator) GetTranslator(lang string) ut.Translator {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if t, ok := v.trans[normalizeLang(lang)]; ok {
		return t
	}
	return v.trans[LangEN]
}

// RegisterTranslator registers trans under lang.
func (v *Validator) RegisterTranslator(lang string, trans ut.Translator) {
	v.mu.Lock()
	v.trans[lang] = trans
	v.mu.Unlock()
}

// Validate validates a struct and returns the raw validator error.
func (v *Validator) Validate(s any) error {
	return v.validate.Struct(s)
}

// ValidateVar validates a single value against tag.
func (v *Validator) ValidateVar(field any, tag string) error {
	return v.validate.Var(field, tag)
}

// ValidateWithLang validates a struct and returns translated errors, or nil.
func (v *Validator) ValidateWithLang(s any, lang string) *ValidationErrors {
	return v.Translate(v.validate.Struct(s), lang)
}

// ValidateVarWithLang validates a single value and returns translated errors, or nil.
func (v *Validator) ValidateVarWithLang(field any, tag, lang string) *ValidationErrors {
	return v.Translate(v.validate.Var(field, tag), lang)
}

// Translate converts a validator error into ValidationErrors in lang.
// Errors that do not come from the validator are returned as a single
// entry carrying err.Error().
func (v *Validator) Translate(err error, lang string) *ValidationErrors {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewValidationError("", "", err.Error())
	}

	trans := v.GetTranslator(lang)
	out := NewValidationErrors()
	for _, fe := range verrs {
		msg := fe.Error()
		if trans != nil {
			msg = fe.Translate(trans)
		}
		out.Append(FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Value:   fe.Value(),
			Message: msg,
		})
	}
	return out
}

func normalizeLang(lang string) string {
	lang = strings.ToLower(lang)
	if strings.HasPrefix(lang, LangZH) {
		return LangZH
	}
	if strings.HasPrefix(lang, LangEN) {
		return LangEN
	}
	return lang
}

// Struct validates s with the global validator.
func Struct(s any) error {
	return Global().Validate(s)
}

// StructWithLang validates s with the global validator and translates the result.
func StructWithLang(s any, lang string) *ValidationErrors {
	return Global().ValidateWithLang(s, lang)
}

// Var validates a single value with the global validator.
func Var(field any, tag string) error {
	return Global().ValidateVar(field, tag)
}

// VarWithLang validates a single value with the global validator and translates the result.
func VarWithLang(field any, tag, lang string) *ValidationErrors {
	return Global().ValidateVarWithLang(field, tag, lang)
}
