package artifact

import (
	"fmt"
	"strconv"
	"strings"
)

type schemaHeader struct {
	SchemaVersion int    `json:"schema_version"`
	SchemaID      string `json:"schema_id"`
}

// SchemaMismatchError is returned when a document's schema_id major
// version differs from what the reader expects.
type SchemaMismatchError struct {
	Got, Want string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("artifact: schema mismatch: document is %q, reader expects major version of %q", e.Got, e.Want)
}

// checkSchemaMajor enforces spec.md's schema compatibility rule: same
// major version tolerates unknown/extra fields (the caller's struct tags
// already do that via encoding/json), different major is rejected with a
// diagnostic naming both versions.
func checkSchemaMajor(got, want string) error {
	gotMajor, err := schemaMajor(got)
	if err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	wantMajor, err := schemaMajor(want)
	if err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	if gotMajor != wantMajor {
		return &SchemaMismatchError{Got: got, Want: want}
	}
	return nil
}

func schemaMajor(schemaID string) (string, error) {
	i := strings.LastIndex(schemaID, "@")
	if i < 0 {
		return "", fmt.Errorf("malformed schema id %q: missing @major", schemaID)
	}
	base, major := schemaID[:i], schemaID[i+1:]
	if _, err := strconv.Atoi(major); err != nil {
		return "", fmt.Errorf("malformed schema id %q: non-numeric major %q", schemaID, major)
	}
	return base + "@" + major, nil
}
