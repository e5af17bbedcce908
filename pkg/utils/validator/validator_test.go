package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
)

type bookRequest struct {
	BookID   string   `json:"book_id" validate:"required,bookid"`
	Question string   `json:"question" validate:"notblank"`
	Chunks   []string `json:"chunks" validate:"required,min=1"`
	TopK     int      `json:"top_k" validate:"omitempty,min=1,max=50"`
}

func validBookRequest() bookRequest {
	return bookRequest{BookID: "book-1", Question: "who is alice?", Chunks: []string{"a"}, TopK: 5}
}

// TestGlobal tests the global validator instance.
func TestGlobal(t *testing.T) {
	v1 := Global()
	if v1 == nil {
		t.Fatal("Global() returned nil")
	}
	if v2 := Global(); v1 != v2 {
		t.Error("Global() should return the same instance")
	}

	custom := New()
	SetGlobal(custom)
	if Global() != custom {
		t.Error("SetGlobal() did not set the custom validator")
	}
	SetGlobal(v1)
}

// TestNew tests creating a new validator instance.
func TestNew(t *testing.T) {
	v := New()

	if v.validate == nil || v.uni == nil {
		t.Fatal("validator is not initialized")
	}
	if len(v.trans) != 2 {
		t.Errorf("Expected 2 translators (en, zh), got %d", len(v.trans))
	}
	if v.GetTranslator(LangEN) == nil || v.GetTranslator(LangZH) == nil {
		t.Error("translators not registered")
	}
	if v.GetTranslator("fr") != v.GetTranslator(LangEN) {
		t.Error("unknown language should fall back to English")
	}
	if v.GetTranslator("zh-CN") != v.GetTranslator(LangZH) {
		t.Error("zh-CN should map to the Chinese translator")
	}
	if v.Engine() != v.validate {
		t.Error("Engine() should return the internal validate instance")
	}
}

func TestValidate(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		mutate  func(r *bookRequest)
		wantErr bool
		tag     string
	}{
		{name: "valid", mutate: func(*bookRequest) {}},
		{name: "missing_book_id", mutate: func(r *bookRequest) { r.BookID = "" }, wantErr: true, tag: "required"},
		{name: "book_id_with_slash", mutate: func(r *bookRequest) { r.BookID = "a/b" }, wantErr: true, tag: TagBookID},
		{name: "book_id_control_char", mutate: func(r *bookRequest) { r.BookID = "a\nb" }, wantErr: true, tag: TagBookID},
		{name: "book_id_too_long", mutate: func(r *bookRequest) { r.BookID = strings.Repeat("x", MaxBookIDLength+1) }, wantErr: true, tag: TagBookID},
		{name: "book_id_unicode", mutate: func(r *bookRequest) { r.BookID = "《红楼梦》-1" }},
		{name: "blank_question", mutate: func(r *bookRequest) { r.Question = "  \t" }, wantErr: true, tag: TagNotBlank},
		{name: "empty_chunks", mutate: func(r *bookRequest) { r.Chunks = []string{} }, wantErr: true, tag: "min"},
		{name: "top_k_zero_omitted", mutate: func(r *bookRequest) { r.TopK = 0 }},
		{name: "top_k_too_large", mutate: func(r *bookRequest) { r.TopK = 51 }, wantErr: true, tag: "max"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validBookRequest()
			tt.mutate(&req)

			err := v.Validate(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}

			var verrs validator.ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected validator.ValidationErrors, got %T", err)
			}
			if verrs[0].Tag() != tt.tag {
				t.Errorf("tag = %q, want %q", verrs[0].Tag(), tt.tag)
			}
		})
	}
}

func TestValidateWithLang(t *testing.T) {
	v := New()
	req := validBookRequest()
	req.BookID = ""
	req.Question = " "

	errs := v.ValidateWithLang(req, LangEN)
	if errs.Count() != 2 {
		t.Fatalf("Expected 2 errors, got %d", errs.Count())
	}
	if errs.FirstField() != "book_id" {
		t.Errorf("field = %q, want json tag name", errs.FirstField())
	}
	if got := errs.First(); got != "book_id is a required field" {
		t.Errorf("English message = %q", got)
	}
	if got := errs.Errors[1].Message; got != "question must not be blank" {
		t.Errorf("custom English message = %q", got)
	}
	if got := errs.Error(); got != "validation failed: book_id is a required field; question must not be blank" {
		t.Errorf("Error() = %q", got)
	}

	zhErrs := v.ValidateWithLang(req, LangZH)
	if got := zhErrs.Errors[1].Message; got != "question不能为空白" {
		t.Errorf("custom Chinese message = %q", got)
	}

	if errs := v.ValidateWithLang(validBookRequest(), LangEN); errs != nil {
		t.Errorf("expected nil for valid struct, got %v", errs)
	}
}

func TestValidateVar(t *testing.T) {
	v := New()

	if err := v.ValidateVar("book-1", TagBookID); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	errs := v.ValidateVarWithLang("a\\b", TagBookID, LangEN)
	if !errs.HasErrors() {
		t.Fatal("expected errors")
	}
	if errs.Errors[0].Tag != TagBookID {
		t.Errorf("tag = %q", errs.Errors[0].Tag)
	}
}

func TestTranslateNonValidatorError(t *testing.T) {
	v := New()

	errs := v.Translate(errors.New("unexpected EOF"), LangEN)
	if errs.Count() != 1 || errs.First() != "unexpected EOF" {
		t.Errorf("Translate() = %+v", errs)
	}
	if v.Translate(nil, LangEN) != nil {
		t.Error("Translate(nil) should be nil")
	}
}

func TestValidationErrors(t *testing.T) {
	var nilErrs *ValidationErrors
	if nilErrs.Error() != "" || nilErrs.Count() != 0 || nilErrs.HasErrors() {
		t.Error("nil collection should be empty")
	}

	errs := NewValidationError("question", TagNotBlank, "question must not be blank")
	errs.Append(FieldError{Field: "question", Tag: "max", Message: "second"})
	errs.Append(FieldError{Field: "top_k", Tag: "min", Message: "top_k must be 1 or greater"})

	if errs.Count() != 3 {
		t.Errorf("Count() = %d", errs.Count())
	}
	m := errs.ToMap()
	if len(m) != 2 || m["question"] != "question must not be blank" {
		t.Errorf("ToMap() = %v", m)
	}
	if NewValidationErrors().HasErrors() {
		t.Error("new collection should be empty")
	}
}

type bindingRequest struct {
	BookID string `uri:"book_id" binding:"required,bookid"`
}

func TestBinding(t *testing.T) {
	b := New(WithTagName("binding")).Binding()

	if err := b.ValidateStruct(&bindingRequest{BookID: "book-1"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := b.ValidateStruct(&bindingRequest{}); err == nil {
		t.Error("expected required error")
	}
	if err := b.ValidateStruct([]bindingRequest{{BookID: "ok"}, {BookID: "a/b"}}); err == nil {
		t.Error("expected slice element to be validated")
	}
	if err := b.ValidateStruct(map[string]string{}); err != nil {
		t.Errorf("non-struct values are ignored, got %v", err)
	}
	if _, ok := b.Engine().(*validator.Validate); !ok {
		t.Errorf("Engine() = %T", b.Engine())
	}
}

// TestConcurrentValidation tests that the validator is safe for concurrent use.
func TestConcurrentValidation(_ *testing.T) {
	v := New()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				req := validBookRequest()
				_ = v.Validate(req)
				_ = v.ValidateWithLang(req, LangEN)
				_ = v.ValidateWithLang(req, LangZH)
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}
