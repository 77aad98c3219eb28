package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wisbric/gatewayd/internal/httpapi/apierr"
	"github.com/wisbric/gatewayd/internal/storage"
)

// pollInterval is how often Subscribe re-reads the channel when no faster
// wake-up fires; every notify-triggered read still runs against the store,
// so a missed or duplicate notify can never desync the stream.
const pollInterval = time.Second

// Subscribe streams a channel's events as Server-Sent Events. It emits one
// "connected" event carrying {channelId, afterSeq}, then re-reads on every
// pollInterval tick or Redis notify from Append/AppendDeletion (whichever
// comes first), emitting each newly visible event with id=seq. Polling
// errors are logged and swallowed so the stream survives transient adapter
// failures; the loop exits only when the client disconnects.
func (e *Engine) Subscribe(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, channelID string, afterSeq int64, includeDeleted bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		apierr.RespondError(w, logger, apierr.Internal("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: connected\ndata: {\"channelId\":%q,\"afterSeq\":%d}\n\n", channelID, afterSeq)
	flusher.Flush()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	notifyCh, cleanup := e.subscribeNotify(ctx, channelID)
	defer cleanup()

	cursor := afterSeq
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-notifyCh:
		}

		res, err := e.Read(ctx, channelID, storage.ReadOptions{AfterSeq: cursor, Limit: 100, IncludeDeleted: includeDeleted})
		if err != nil {
			if logger != nil {
				logger.Error("channel subscribe poll", "channel_id", channelID, "error", err)
			}
			continue
		}
		for _, ev := range res.Events {
			writeSSEEvent(w, ev)
			cursor = ev.Seq
		}
		if len(res.Events) > 0 {
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev storage.ChannelEvent) {
	fmt.Fprintf(w, "id: %d\n", ev.Seq)
	fmt.Fprintf(w, "data: {\"id\":%q,\"seq\":%d,\"authorId\":%q,\"content\":%q,\"deleted\":%t,\"createdAt\":%q}\n\n",
		ev.ID, ev.Seq, ev.AuthorID, ev.Content, ev.Deleted, ev.CreatedAt.Format(time.RFC3339Nano))
}
