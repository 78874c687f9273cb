// Package settings reads operator-managed display settings from a Redis hash.
// The service never writes them.
package settings

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Settings struct {
	AnnouncementEN string `json:"announcementEn"`
	AnnouncementBG string `json:"announcementBg"`
	PaymentLink    string `json:"paymentLink"`
	ContactEmail   string `json:"contactEmail"`
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

type Reader struct {
	client hashReader
	key    string
}

// NewReader accepts a nil client, in which case every read returns empty settings.
func NewReader(client *redis.Client, key string) *Reader {
	if client == nil {
		return &Reader{key: key}
	}
	return &Reader{client: client, key: key}
}

func (r *Reader) Get(ctx context.Context) (Settings, error) {
	if r == nil || r.client == nil {
		return Settings{}, nil
	}
	values, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	return Settings{
		AnnouncementEN: values["announcement_en"],
		AnnouncementBG: values["announcement_bg"],
		PaymentLink:    values["payment_link"],
		ContactEmail:   values["contact_email"],
	}, nil
}
