package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// maxBodyBytes caps request bodies. Chat submissions carry message blocks and
// attachment references, never file content, so 10MB is generous.
const maxBodyBytes = 10 << 20

// ParseJSON decodes the request body into dest. Unknown fields are allowed:
// request params forward arbitrary provider knobs and are validated
// downstream.
func ParseJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
