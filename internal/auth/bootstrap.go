package auth

import (
	"context"
	"fmt"
	"log/slog"
)

// Bootstrap ensures an admin key exists when auth is enabled and the
// store is empty, printing the generated token once (spec §4.9).
func Bootstrap(ctx context.Context, store *FileStore, log *slog.Logger) error {
	if store.Count() > 0 {
		return nil
	}
	token, err := GenerateToken()
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	key, err := NewAPIKey("admin", NewPermissionSet(PermAdmin), token)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if err := store.Create(ctx, key); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	log.Warn("generated initial admin API key — store it now, it will not be shown again",
		"token", token, "key_id", key.ID)
	return nil
}
