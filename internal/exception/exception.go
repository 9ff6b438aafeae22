// Package exception turns a native stack trace (or a synthetic string
// message) into the structured property bag the ingest endpoint expects
// under "$exception_list".
package exception

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const maxFrames = 50
const contextLines = 5

// libraryMarkers are substrings that, when present in a frame's absolute
// path, classify the frame as not-in-app (runtime or third-party code).
var libraryMarkers = []string{
	"/go/pkg/mod/",
	"/usr/local/go/",
	"/usr/lib/go",
	"/go/src/",
	"GOROOT",
	"/vendor/",
	"/lib/",
}

// Frame is one entry of a structured stack trace.
type Frame struct {
	Filename    string
	AbsPath     string
	Lineno      int
	Colno       int
	Function    string
	InApp       bool
	ContextLine string
	PreContext  []string
	PostContext []string
}

// Mechanism describes how the exception was captured.
type Mechanism struct {
	Type      string
	Handled   bool
	Synthetic bool
}

// ExceptionRecord is the single element of "$exception_list".
type ExceptionRecord struct {
	Type       string
	Value      string
	Mechanism  Mechanism
	Stacktrace *Stacktrace // nil for synthetic captures
}

// Stacktrace wraps the ordered Frame list (most-recent first).
type Stacktrace struct {
	Frames []Frame
}

// Input describes a capture target: either a throwable with real stack
// frames (Frames non-nil) or a synthetic string message (Frames nil).
type Input struct {
	Type    string
	Message string
	Handled bool
	// Frames, if non-nil, are raw program counters captured with
	// runtime.Callers by the caller of Serialize.
	Frames []uintptr
}

// Properties is the flattened property-bag representation injected into a
// Message's Properties by the ingest Normalizer.
type Properties struct {
	ExceptionType    string
	ExceptionMessage string
	ExceptionList    []ExceptionRecord
}

// ToMap renders Properties into the map[string]any shape the wire format
// expects (keys $exception_type, $exception_message, $exception_list).
func (p Properties) ToMap() map[string]any {
	list := make([]map[string]any, 0, len(p.ExceptionList))
	for _, rec := range p.ExceptionList {
		m := map[string]any{
			"type":  rec.Type,
			"value": rec.Value,
			"mechanism": map[string]any{
				"type":      rec.Mechanism.Type,
				"handled":   rec.Mechanism.Handled,
				"synthetic": rec.Mechanism.Synthetic,
			},
		}
		if rec.Stacktrace != nil {
			frames := make([]map[string]any, 0, len(rec.Stacktrace.Frames))
			for _, f := range rec.Stacktrace.Frames {
				fm := map[string]any{
					"filename": f.Filename,
					"abs_path": f.AbsPath,
					"lineno":   f.Lineno,
					"colno":    f.Colno,
					"function": f.Function,
					"in_app":   f.InApp,
				}
				if f.ContextLine != "" {
					fm["context_line"] = f.ContextLine
					if len(f.PreContext) > 0 {
						fm["pre_context"] = f.PreContext
					}
					if len(f.PostContext) > 0 {
						fm["post_context"] = f.PostContext
					}
				}
				frames = append(frames, fm)
			}
			m["stacktrace"] = map[string]any{"frames": frames}
		}
		list = append(list, m)
	}
	return map[string]any{
		"$exception_type":    p.ExceptionType,
		"$exception_message": p.ExceptionMessage,
		"$exception_list":    list,
	}
}

// Serialize builds Properties from an Input. A nil Frames field (the
// synthetic, string-only capture path) produces a record with no
// Stacktrace and mechanism.synthetic=true.
func Serialize(in Input) Properties {
	excType := in.Type
	if excType == "" {
		excType = "Error"
	}

	rec := ExceptionRecord{
		Type:  excType,
		Value: in.Message,
		Mechanism: Mechanism{
			Type:      "generic",
			Handled:   in.Handled,
			Synthetic: in.Frames == nil,
		},
	}

	if in.Frames != nil {
		rec.Stacktrace = &Stacktrace{Frames: framesFromPCs(in.Frames)}
	}

	return Properties{
		ExceptionType:    excType,
		ExceptionMessage: in.Message,
		ExceptionList:    []ExceptionRecord{rec},
	}
}

func framesFromPCs(pcs []uintptr) []Frame {
	callersFrames := runtime.CallersFrames(pcs)
	var raw []runtime.Frame
	for {
		f, more := callersFrames.Next()
		raw = append(raw, f)
		if !more {
			break
		}
	}

	// Most-recent first: runtime.CallersFrames already yields innermost
	// first, so raw is already in the desired order.
	if len(raw) > maxFrames {
		raw = raw[:maxFrames]
	}

	frames := make([]Frame, 0, len(raw))
	for _, rf := range raw {
		fr := Frame{
			Filename: filepath.Base(rf.File),
			AbsPath:  rf.File,
			Lineno:   rf.Line,
			Function: rf.Function,
			InApp:    !isLibraryPath(rf.File),
		}
		if pre, line, post, ok := readContext(rf.File, rf.Line); ok {
			fr.ContextLine = line
			fr.PreContext = pre
			fr.PostContext = post
		}
		frames = append(frames, fr)
	}
	return frames
}

func isLibraryPath(path string) bool {
	for _, marker := range libraryMarkers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return false
}

// readContext attempts to read the source file at path and extract the
// line at lineno plus up to contextLines before/after. File-read failures
// are suppressed per spec.md §4.2: it returns ok=false and the caller
// omits context fields entirely.
func readContext(path string, lineno int) (pre []string, line string, post []string, ok bool) {
	if lineno <= 0 {
		return nil, "", nil, false
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", nil, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var all []string
	for scanner.Scan() {
		all = append(all, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, "", nil, false
	}

	idx := lineno - 1
	if idx < 0 || idx >= len(all) {
		return nil, "", nil, false
	}

	start := idx - contextLines
	if start < 0 {
		start = 0
	}
	end := idx + contextLines
	if end >= len(all) {
		end = len(all) - 1
	}

	return append([]string(nil), all[start:idx]...), all[idx], append([]string(nil), all[idx+1:end+1]...), true
}
