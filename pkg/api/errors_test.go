package api

import (
	"encoding/json"
	"testing"
)

func TestAPIErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want string
	}{
		{"plain", NewUnauthorizedError("bad token"), "unauthorized: bad token"},
		{"param", NewInvalidRequestError("site_id", "site_id is required"), "invalid_request: site_id is required (param: site_id)"},
		{"code", NewTooManyRequestsError("slow down"), "too_many_requests: slow down [rate_limit_exceeded]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWithCodeCopies(t *testing.T) {
	base := NewForbiddenError("admin privileges required")
	coded := base.WithCode(CodeAdminRequired)

	if coded.Code != CodeAdminRequired {
		t.Errorf("Code = %q, want %q", coded.Code, CodeAdminRequired)
	}
	if base.Code != "" {
		t.Errorf("WithCode mutated the receiver: Code = %q", base.Code)
	}
	if coded.Type != ErrorTypeForbidden || coded.Message != base.Message {
		t.Errorf("WithCode changed type or message: %+v", coded)
	}
}

func TestUnauthorizedBody(t *testing.T) {
	data, err := json.Marshal(ErrorResponse{Error: NewUnauthorizedError("bad token")})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"error":{"type":"unauthorized","message":"bad token"}}`
	if string(data) != want {
		t.Errorf("body = %s, want %s", data, want)
	}
}

func TestRateLimitBody(t *testing.T) {
	data, err := json.Marshal(ErrorResponse{Error: NewTooManyRequestsError("rate limit exceeded")})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"error":{"type":"too_many_requests","code":"rate_limit_exceeded","message":"rate limit exceeded"}}`
	if string(data) != want {
		t.Errorf("body = %s, want %s", data, want)
	}
}

func TestInvalidRequestCarriesParam(t *testing.T) {
	data, err := json.Marshal(NewInvalidRequestError("site_id", "site_id is required"))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if m["param"] != "site_id" {
		t.Errorf("param = %v, want site_id", m["param"])
	}
	if _, ok := m["code"]; ok {
		t.Error("empty code should be omitted")
	}
}
