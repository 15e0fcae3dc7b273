package dto

import (
	"recnode/constant"
	"recnode/entities"
)

// CommandMessage arrives on the external command channel. Record spawns a
// recording loop for the session; Cancel sets its abort flag.
type CommandMessage struct {
	Type      constant.CommandType `json:"type"`
	SessionId string               `json:"sessionId"`
}

// SessionStatus is the status surface of one recording session.
type SessionStatus struct {
	SessionId    string                `json:"sessionId"`
	Platform     constant.Platform     `json:"platform"`
	ChannelId    string                `json:"channelId"`
	LiveId       string                `json:"liveId"`
	NumProcessed int                   `json:"numProcessed"`
	State        constant.SessionState `json:"state"`
}

// ValidateRequest carries externally observed segment descriptors for a
// consistency check against the authoritative state.
type ValidateRequest struct {
	Segments []entities.SegmentDescriptor `json:"segments"`
}

type ValidateResponse struct {
	Ok bool `json:"ok"`
}
