package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

type errorResponse struct {
	Detail string `json:"detail"`
}

// AssertDetail checks the status and the string detail of an error body.
func AssertDetail(t *testing.T, resp *httptest.ResponseRecorder, expectedStatus int, expectedDetail string) {
	t.Helper()
	AssertHTTPStatus(t, resp, expectedStatus)

	var errResp errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp.Detail != expectedDetail {
		t.Fatalf("expected detail %q, got %q", expectedDetail, errResp.Detail)
	}
}

func AssertHTTPStatus(t *testing.T, resp *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	if resp.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d: %s", expectedStatus, resp.Code, resp.Body.String())
	}
}
