package entities

import (
	"time"

	"recnode/constant"
)

// LiveSessionRecord is the top-level record for one recording attempt,
// stored at live:{id} in the shared store. At most one non-expired record
// exists per id; IsInvalid moves false -> true only and is never reset by
// normal flow.
type LiveSessionRecord struct {
	ID          string            `json:"id"`
	Platform    constant.Platform `json:"platform"`
	ChannelId   string            `json:"channel_id"`
	ChannelName string            `json:"channel_name"`
	LiveId      string            `json:"live_id"`
	LiveTitle   string            `json:"live_title"`
	StreamUrl   string            `json:"stream_url"`
	Headers     map[string]string `json:"headers,omitempty"`
	VideoName   string            `json:"video_name"`
	IsInvalid   *bool             `json:"is_invalid,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (r *LiveSessionRecord) Invalid() bool {
	return r.IsInvalid != nil && *r.IsInvalid
}
