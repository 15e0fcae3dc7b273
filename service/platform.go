package service

import (
	"context"

	"recnode/constant"
)

// LiveInfo describes a currently live broadcast as resolved by a platform
// adapter.
type LiveInfo struct {
	Platform    constant.Platform
	ChannelId   string
	ChannelName string
	LiveId      string
	LiveTitle   string
}

// PlatformFetcher resolves a channel URL to its live broadcast, or nil when
// the channel is offline. Platform-specific adapters implement this.
type PlatformFetcher interface {
	FetchLiveInfo(ctx context.Context, url string) (*LiveInfo, error)
}

// FetcherFunc adapts a function to PlatformFetcher.
type FetcherFunc func(ctx context.Context, url string) (*LiveInfo, error)

func (f FetcherFunc) FetchLiveInfo(ctx context.Context, url string) (*LiveInfo, error) {
	return f(ctx, url)
}

// NewProbeFetcher treats a reachable stream URL as live. It stands in
// until a platform-specific adapter is wired; resolvers populate the full
// LiveInfo out of band.
func NewProbeFetcher(client StreamFetcher) PlatformFetcher {
	return FetcherFunc(func(ctx context.Context, url string) (*LiveInfo, error) {
		if _, err := client.GetText(ctx, url, nil); err != nil {
			return nil, nil
		}
		return &LiveInfo{}, nil
	})
}
