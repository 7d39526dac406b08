package core

import (
	"context"
	"encoding/json"
	"fmt"
)

// JSONAdapter decodes a JSON payload into T before calling fn.
func JSONAdapter[T any](fn func(ctx context.Context, msg *T) error) HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		msg := new(T)
		if err := json.Unmarshal(payload, msg); err != nil {
			return fmt.Errorf("decode %T: %w", msg, err)
		}
		return fn(ctx, msg)
	}
}
