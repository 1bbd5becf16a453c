package port

import "context"

type MediaEventKind string

const (
	MediaPeerPublished   MediaEventKind = "peer-published"
	MediaPeerUnpublished MediaEventKind = "peer-unpublished"
	MediaPeerLeft        MediaEventKind = "peer-left"
)

// MediaEvent is a notification from the media engine about a remote peer.
type MediaEvent struct {
	Kind  MediaEventKind
	Peer  uint32
	Track string // "audio" or "video", empty for peer-left
}

// MediaEngine is the external audio/video engine the coordinator hands its
// session tuple to. Capture, encoding and transport live behind it.
type MediaEngine interface {
	Join(ctx context.Context, appID, channel, token string, uid uint32) error
	Publish(ctx context.Context) error
	Leave(ctx context.Context) error
	Events() <-chan MediaEvent
}
