// Package pubrequest loads and validates the publication request document
// (publication-request.json) associated with the checked-out IG revision.
package pubrequest

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fhirops/igrelease/internal/logfields"
)

// FileName is the fixed manifest location relative to the repository root.
const FileName = "publication-request.json"

// Request is the raw manifest payload for one (repository, ref) pair. It is
// held in memory only; persisting edits back to disk is the caller's concern.
type Request struct {
	Payload string
}

// Load reads the manifest from the repository root. A missing or unreadable
// file yields an empty-object payload rather than an error so downstream
// validation always has a well-defined document to check.
func Load(repoLocalPath string) Request {
	path := filepath.Join(repoLocalPath, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Publication request unreadable, using empty payload", logfields.Path(path), logfields.Error(err))
		}
		return Request{Payload: "{}"}
	}
	return Request{Payload: string(data)}
}

// SyntaxError describes where and why a payload failed to parse.
type SyntaxError struct {
	Offset  int64 // byte offset into the payload, 1-based per encoding/json
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid publication request at offset %d: %s", e.Offset, e.Message)
}

// ValidationResult reports the outcome of Validate.
type ValidationResult struct {
	OK  bool
	Err *SyntaxError
}

// Validate strictly parses the payload as a single JSON document. It touches
// neither the filesystem nor the network.
func Validate(req Request) ValidationResult {
	dec := json.NewDecoder(strings.NewReader(req.Payload))
	var v any
	if err := dec.Decode(&v); err != nil {
		return ValidationResult{Err: toSyntaxError(err, dec.InputOffset())}
	}
	// Anything after the first value makes the document invalid.
	if err := checkTrailing(dec); err != nil {
		return ValidationResult{Err: err}
	}
	return ValidationResult{OK: true}
}

func checkTrailing(dec *json.Decoder) *SyntaxError {
	var trailing any
	err := dec.Decode(&trailing)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return toSyntaxError(err, dec.InputOffset())
	}
	return &SyntaxError{Offset: dec.InputOffset(), Message: "unexpected content after document"}
}

func toSyntaxError(err error, fallbackOffset int64) *SyntaxError {
	if jse, ok := err.(*json.SyntaxError); ok {
		return &SyntaxError{Offset: jse.Offset, Message: jse.Error()}
	}
	offset := fallbackOffset
	if offset <= 0 {
		offset = 1
	}
	return &SyntaxError{Offset: offset, Message: err.Error()}
}
