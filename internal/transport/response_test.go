package transport

import "testing"

func TestResponse_Success(t *testing.T) {
	cases := map[int]bool{200: true, 201: true, 299: true, 300: false, 199: false, -1: false}
	for status, want := range cases {
		if got := (Response{Status: status}).Success(); got != want {
			t.Errorf("Success() for status %d = %v, want %v", status, got, want)
		}
	}
}

func TestResponse_ShouldRetry(t *testing.T) {
	cases := map[int]bool{
		-1:  true,
		429: true,
		500: true,
		503: true,
		200: false,
		400: false,
		404: false,
	}
	for status, want := range cases {
		if got := (Response{Status: status}).ShouldRetry(); got != want {
			t.Errorf("ShouldRetry() for status %d = %v, want %v", status, got, want)
		}
	}
}

func TestResponse_Classification(t *testing.T) {
	if !(Response{Status: 429}).RateLimited() {
		t.Error("RateLimited() = false for 429")
	}
	if !(Response{Status: 404}).ClientError() {
		t.Error("ClientError() = false for 404")
	}
	if (Response{Status: 429}).ClientError() {
		t.Error("ClientError() = true for 429, want false (handled separately)")
	}
	if !(Response{Status: 503}).ServerError() {
		t.Error("ServerError() = false for 503")
	}
	if !(Response{Status: -1}).NetworkError() {
		t.Error("NetworkError() = false for -1")
	}
}

func TestResponse_ErrorMessage(t *testing.T) {
	withBody := Response{Status: 400, Body: []byte("bad request")}
	if got := withBody.ErrorMessage(); got != "status=400: bad request" {
		t.Errorf("ErrorMessage() = %q, want %q", got, "status=400: bad request")
	}
}
