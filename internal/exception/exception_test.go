package exception

import (
	"runtime"
	"testing"
)

func TestSerialize_SyntheticMessage(t *testing.T) {
	props := Serialize(Input{Type: "CustomError", Message: "boom", Handled: true})

	if props.ExceptionType != "CustomError" {
		t.Errorf("ExceptionType = %q, want CustomError", props.ExceptionType)
	}
	if len(props.ExceptionList) != 1 {
		t.Fatalf("len(ExceptionList) = %d, want 1", len(props.ExceptionList))
	}
	rec := props.ExceptionList[0]
	if !rec.Mechanism.Synthetic {
		t.Error("Mechanism.Synthetic = false for a Frames==nil input")
	}
	if !rec.Mechanism.Handled {
		t.Error("Mechanism.Handled = false, want true")
	}
	if rec.Stacktrace != nil {
		t.Error("Stacktrace != nil for a synthetic capture")
	}
}

func TestSerialize_DefaultsTypeToError(t *testing.T) {
	props := Serialize(Input{Message: "something broke"})
	if props.ExceptionType != "Error" {
		t.Errorf("ExceptionType = %q, want Error", props.ExceptionType)
	}
}

func TestSerialize_WithFrames(t *testing.T) {
	pcs := make([]uintptr, 10)
	n := runtime.Callers(0, pcs)

	props := Serialize(Input{Type: "RuntimeError", Message: "panic", Frames: pcs[:n]})
	rec := props.ExceptionList[0]
	if rec.Mechanism.Synthetic {
		t.Error("Mechanism.Synthetic = true for a real stack capture")
	}
	if rec.Stacktrace == nil || len(rec.Stacktrace.Frames) == 0 {
		t.Fatal("expected a non-empty Stacktrace for a real stack capture")
	}
	for _, f := range rec.Stacktrace.Frames {
		if f.Function == "" {
			t.Error("frame missing Function")
		}
	}
}

func TestSerialize_CapsFrameCount(t *testing.T) {
	pcs := make([]uintptr, maxFrames+20)
	n := runtime.Callers(0, pcs)
	if n == 0 {
		t.Skip("runtime.Callers returned no frames in this environment")
	}

	props := Serialize(Input{Message: "deep", Frames: pcs[:n]})
	if got := len(props.ExceptionList[0].Stacktrace.Frames); got > maxFrames {
		t.Errorf("frame count = %d, want <= %d", got, maxFrames)
	}
}

func TestProperties_ToMap(t *testing.T) {
	props := Properties{
		ExceptionType:    "Error",
		ExceptionMessage: "boom",
		ExceptionList: []ExceptionRecord{{
			Type:  "Error",
			Value: "boom",
			Mechanism: Mechanism{
				Type:      "generic",
				Handled:   true,
				Synthetic: true,
			},
		}},
	}

	m := props.ToMap()
	if m["$exception_type"] != "Error" {
		t.Errorf("$exception_type = %v, want Error", m["$exception_type"])
	}
	if m["$exception_message"] != "boom" {
		t.Errorf("$exception_message = %v, want boom", m["$exception_message"])
	}
	list, ok := m["$exception_list"].([]map[string]any)
	if !ok || len(list) != 1 {
		t.Fatalf("$exception_list = %#v, want a single-element slice", m["$exception_list"])
	}
	if _, hasStacktrace := list[0]["stacktrace"]; hasStacktrace {
		t.Error("stacktrace key present for a nil Stacktrace")
	}
}

func TestIsLibraryPath(t *testing.T) {
	cases := map[string]bool{
		"/go/pkg/mod/github.com/foo/bar.go": true,
		"/usr/local/go/src/fmt/print.go":    true,
		"/home/user/project/main.go":        false,
	}
	for path, want := range cases {
		if got := isLibraryPath(path); got != want {
			t.Errorf("isLibraryPath(%q) = %v, want %v", path, got, want)
		}
	}
}
