package trading

import (
	"context"

	"github.com/Sternrassler/tradecache/pkg/invalidation"
)

// OnInvalidate implements invalidation.Hook. Removed keys are dropped from
// the mirrors; sessionId and userId metadata trigger the session and user
// cascades.
func (l *Layer) OnInvalidate(ctx context.Context, n invalidation.Notification) {
	l.evictKeys(n.Keys)

	if id := n.Metadata["sessionId"]; id != "" {
		l.InvalidateSessionData(ctx, id)
	}
	if id := n.Metadata["userId"]; id != "" {
		l.InvalidateUserData(ctx, id)
	}
}

var _ invalidation.Hook = (*Layer)(nil)
