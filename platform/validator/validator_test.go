package validator

import (
	"testing"

	"salespipeline_backend/platform/apperr"
)

type contactInput struct {
	Email   string `json:"email" validate:"required,email"`
	Channel string `json:"channel" validate:"channel"`
}

func TestStructReturnsValidationErrorWithJSONFieldNames(t *testing.T) {
	v := New()
	if err := v.RegisterValidation("channel", OneOf("email", "sms")); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := v.Struct(contactInput{Email: "nope", Channel: "fax"})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	appErr := err.(*apperr.Error)
	fields, ok := appErr.Details.(map[string]string)
	if !ok {
		t.Fatalf("expected field details, got %T", appErr.Details)
	}
	if fields["email"] != "email" || fields["channel"] != "channel" {
		t.Fatalf("unexpected field details %v", fields)
	}

	if err := v.Struct(contactInput{Email: "a@b.co", Channel: "sms"}); err != nil {
		t.Fatalf("expected valid input, got %v", err)
	}
}
