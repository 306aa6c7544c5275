package importer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Meta is the release manifest found as meta.json in every incoming folder.
type Meta struct {
	ChannelSlug string   `json:"channel_slug" validate:"required"`
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description" validate:"required"`
	Tags        []string `json:"tags" validate:"required"`
	PlannedAt   string   `json:"planned_at" validate:"omitempty"`
	Assets      struct {
		Audio []string `json:"audio" validate:"required,min=1,dive,required"`
		Cover string   `json:"cover" validate:"required"`
	} `json:"assets"`
}

// ParseMeta decodes and validates a manifest.
func ParseMeta(raw string) (*Meta, error) {
	var meta Meta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := validate.Struct(&meta); err != nil {
		return nil, fmt.Errorf("validate manifest: %w", err)
	}
	if meta.PlannedAt != "" {
		if _, err := time.Parse(time.RFC3339, meta.PlannedAt); err != nil {
			return nil, fmt.Errorf("parse planned_at: %w", err)
		}
	}
	return &meta, nil
}

// PlannedUnix returns the scheduled time as unix seconds, nil when unset.
func (m *Meta) PlannedUnix() *float64 {
	if m.PlannedAt == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, m.PlannedAt)
	if err != nil {
		return nil
	}
	v := float64(t.UnixNano()) / float64(time.Second)
	return &v
}
