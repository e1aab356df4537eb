package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// LoadJSON decodes the blob under key into v. It reports false, with v
// untouched, when nothing has been saved under key yet.
func LoadJSON(ctx context.Context, s BlobStore, key string, v any) (bool, error) {
	data, err := s.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("corrupt %s blob: %w", key, err)
	}
	return true, nil
}

// SaveJSON encodes v as indented JSON and saves it under key
func SaveJSON(ctx context.Context, s BlobStore, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.Save(ctx, key, append(data, '\n'))
}
