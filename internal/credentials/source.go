package credentials

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// DefaultDelimiter separates username and password in a credential source.
const DefaultDelimiter = ','

// LoadFile reads credentials from the file at path.
func LoadFile(path string, delimiter rune) ([]Credential, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open credential source: %w", err)
	}
	defer file.Close()

	return Load(file, delimiter)
}

// Load reads one username/password pair per line.
//
// Blank lines are skipped and surrounding whitespace is trimmed. A quote
// inside an unquoted field is kept as part of the value. Any record
// that does not have exactly two fields, or has an empty username, fails the
// whole load: a partial working set would silently change the test.
func Load(r io.Reader, delimiter rune) ([]Credential, error) {
	if delimiter == 0 {
		delimiter = DefaultDelimiter
	}

	reader := csv.NewReader(r)
	reader.Comma = delimiter
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var creds []Credential
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return nil, &MalformedError{Line: parseErr.Line, Reason: parseErr.Err.Error()}
			}
			return nil, fmt.Errorf("read credential source: %w", err)
		}

		line, _ := reader.FieldPos(0)
		if len(row) != 2 {
			return nil, &MalformedError{
				Line:   line,
				Reason: fmt.Sprintf("expected 2 fields, got %d", len(row)),
			}
		}

		username := strings.TrimSpace(row[0])
		password := strings.TrimSpace(row[1])
		if username == "" {
			return nil, &MalformedError{Line: line, Reason: "empty username"}
		}

		creds = append(creds, Credential{Username: username, Password: password})
	}

	if len(creds) == 0 {
		return nil, ErrEmptySource
	}
	return creds, nil
}
