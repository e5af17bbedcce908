package validator

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// Custom validation tags
const (
	TagNotBlank = "notblank" // 非空白字符串、非空切片
	TagBookID   = "bookid"   // 图书标识：可打印字符，不超过 MaxBookIDLength
)

// MaxBookIDLength 图书标识的最大字节数。
const MaxBookIDLength = 512

// registerCustomRules registers all custom validation rules.
func (v *Validator) registerCustomRules() {
	_ = v.validate.RegisterValidation(TagNotBlank, validators.NotBlank)
	_ = v.validate.RegisterValidation(TagBookID, validateBookID)
}

// validateBookID 图书标识作为缓存键和 URL 路径段使用，拒绝控制字符和路径分隔符。
func validateBookID(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	if len(value) > MaxBookIDLength || !utf8.ValidString(value) {
		return false
	}
	if strings.TrimSpace(value) == "" {
		return false
	}
	for _, r := range value {
		if unicode.IsControl(r) || r == '/' || r == '\\' {
			return false
		}
	}
	return true
}
