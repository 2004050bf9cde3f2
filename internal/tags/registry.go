// Package tags keeps the proximity tag that unlocks focus mode.
package tags

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/goodtune/braintrap/internal/storage"
	"github.com/rs/zerolog"
)

var (
	// ErrNoTag is returned when no tag has been registered.
	ErrNoTag = errors.New("tags: no tag registered")

	// ErrInvalidTag is returned for identifiers that are not hex bytes.
	ErrInvalidTag = errors.New("tags: invalid tag identifier")
)

// Registry stores the single registered tag in the settings store.
type Registry struct {
	settings storage.SettingsStore
	logger   zerolog.Logger
}

// NewRegistry creates a tag registry
func NewRegistry(settings storage.SettingsStore, logger zerolog.Logger) *Registry {
	return &Registry{
		settings: settings,
		logger:   logger.With().Str("component", "tags").Logger(),
	}
}

// Normalize canonicalises a tag id to upper-case hex bytes joined by ':'.
// Colons, dashes and spaces between bytes are accepted on input.
func Normalize(id string) (string, error) {
	compact := strings.Map(func(r rune) rune {
		switch r {
		case ':', '-', ' ':
			return -1
		}
		return r
	}, strings.TrimSpace(id))

	raw, err := hex.DecodeString(compact)
	if err != nil || len(raw) == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTag, id)
	}

	parts := make([]string, len(raw))
	for i, b := range raw {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}

// RegisterTag replaces the registered tag.
func (r *Registry) RegisterTag(ctx context.Context, id string) (string, error) {
	normalized, err := Normalize(id)
	if err != nil {
		return "", err
	}
	if err := r.settings.Put(ctx, storage.SettingRegisteredTag, normalized); err != nil {
		return "", fmt.Errorf("store tag: %w", err)
	}
	r.logger.Info().Str("tag", normalized).Msg("Registered unlock tag")
	return normalized, nil
}

// Registered returns the registered tag or ErrNoTag.
func (r *Registry) Registered(ctx context.Context) (string, error) {
	id, err := r.settings.Get(ctx, storage.SettingRegisteredTag)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && id == "") {
		return "", ErrNoTag
	}
	if err != nil {
		return "", fmt.Errorf("load tag: %w", err)
	}
	return id, nil
}

// HasTag reports whether a tag is registered. Lookup errors count as none.
func (r *Registry) HasTag(ctx context.Context) bool {
	_, err := r.Registered(ctx)
	if err != nil && !errors.Is(err, ErrNoTag) {
		r.logger.Warn().Err(err).Msg("Failed to load registered tag")
	}
	return err == nil
}

// IsRegisteredTag reports whether scannedID matches the registered tag.
func (r *Registry) IsRegisteredTag(ctx context.Context, scannedID string) bool {
	registered, err := r.Registered(ctx)
	if err != nil {
		return false
	}
	scanned, err := Normalize(scannedID)
	if err != nil {
		return false
	}
	return scanned == registered
}

// Clear forgets the registered tag.
func (r *Registry) Clear(ctx context.Context) error {
	err := r.settings.Delete(ctx, storage.SettingRegisteredTag)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("clear tag: %w", err)
	}
	return nil
}
