package repo

import (
	"encoding/json"
	"fmt"
)

// Embedded documents (frameworks, requests, resource and question lists)
// are stored as JSONB columns and marshaled explicitly at the repository
// boundary, keeping the domain types free of driver concerns.

func marshalDoc(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("repo: marshal document: %w", err)
	}
	return raw, nil
}

func unmarshalDoc(raw []byte, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("repo: unmarshal document: %w", err)
	}
	return nil
}
