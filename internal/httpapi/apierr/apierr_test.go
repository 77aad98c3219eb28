package apierr

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
)

func TestRespondError_TypedError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, nil, NotFound("channel not found"))

	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	var body Error
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Code != "not_found" {
		t.Errorf("code = %q, want not_found", body.Code)
	}
	if body.Message != "channel not found" {
		t.Errorf("message = %q, want %q", body.Message, "channel not found")
	}
}

func TestRespondError_UnknownError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, nil, errors.New("boom"))

	if rec.Code != 500 {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	var body Error
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Code != "internal_error" {
		t.Errorf("code = %q, want internal_error", body.Code)
	}
}

func TestErrorSatisfiesStdError(t *testing.T) {
	var err error = Conflict("already claimed")
	if err.Error() != "conflict: already claimed" {
		t.Errorf("Error() = %q", err.Error())
	}
}
