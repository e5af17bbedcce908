package validator

import (
	"reflect"

	"github.com/gin-gonic/gin/binding"
)

var _ binding.StructValidator = (*ginValidator)(nil)

// ginValidator 将 Validator 适配为 gin 的 binding.StructValidator。
type ginValidator struct {
	v *Validator
}

// Binding returns an adapter suitable for binding.Validator.
// The validator should be created WithTagName("binding").
func (v *Validator) Binding() binding.StructValidator {
	return &ginValidator{v: v}
}

// ValidateStruct validates structs, pointers to structs and slices of them.
func (g *ginValidator) ValidateStruct(obj any) error {
	if obj == nil {
		return nil
	}

	value := reflect.ValueOf(obj)
	switch value.Kind() {
	case reflect.Ptr:
		if value.IsNil() {
			return nil
		}
		return g.ValidateStruct(value.Elem().Interface())
	case reflect.Struct:
		return g.v.Validate(obj)
	case reflect.Slice, reflect.Array:
		for i := 0; i < value.Len(); i++ {
			if err := g.ValidateStruct(value.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

// Engine returns the underlying validator engine.
func (g *ginValidator) Engine() any {
	return g.v.Engine()
}
