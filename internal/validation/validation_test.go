package validation

import "testing"

func TestSubmitRequest_Valid(t *testing.T) {
	v := New()

	req := SubmitRequest{
		Verb:    "retrieve",
		Request: `{"class":"od","stream":"oper"}`,
	}

	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
}

func TestSubmitRequest_ArchiveWithURL(t *testing.T) {
	v := New()

	req := SubmitRequest{
		Verb:    "archive",
		Request: `{"class":"od"}`,
		URL:     "https://example.org/data.grib",
	}

	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
}

func TestSubmitRequest_URLOnRetrieveRejected(t *testing.T) {
	v := New()

	req := SubmitRequest{
		Verb:    "retrieve",
		Request: `{"class":"od"}`,
		URL:     "https://example.org/data.grib",
	}

	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation error for url on retrieve, got nil")
	}
}

func TestSubmitRequest_BadVerb(t *testing.T) {
	v := New()

	req := SubmitRequest{
		Verb:    "delete",
		Request: `{}`,
	}

	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation error for unknown verb, got nil")
	}
}

func TestSubmitRequest_MissingFields(t *testing.T) {
	v := New()

	if err := v.Struct(SubmitRequest{}); err == nil {
		t.Fatal("expected validation errors for missing required fields, got nil")
	}
}
