// Package channelutil holds the tombstone-filtering scan logic shared by
// every ChannelStore.Read implementation, so pgchannel and memchannel apply
// identical soft-delete semantics over their own raw event windows.
package channelutil

import "github.com/wisbric/gatewayd/internal/storage"

// ScanMultiplier is how much wider than the visible limit the raw window
// scan runs, to absorb tombstones interleaved with messages.
const ScanMultiplier = 3

// BuildReadResult applies tombstone filtering over a raw, seq-ordered
// window: deletions are never surfaced as events, and the targets they name
// are either hidden (includeDeleted=false) or annotated deleted=true.
// hasMore is true if the visible limit was reached with raw events still
// unconsumed, or if the raw scan itself hit rawLimit (more may exist past
// the window).
func BuildReadResult(raw []storage.ChannelEvent, limit, rawLimit int, includeDeleted bool) storage.ReadResult {
	deleted := make(map[int64]struct{})
	for _, ev := range raw {
		if ev.Type == storage.ChannelEventDeletion {
			deleted[ev.TargetSeq] = struct{}{}
		}
	}

	var visible []storage.ChannelEvent
	stoppedEarly := false
	for _, ev := range raw {
		if len(visible) >= limit {
			stoppedEarly = true
			break
		}
		if ev.Type == storage.ChannelEventDeletion {
			continue
		}
		if _, isDeleted := deleted[ev.Seq]; isDeleted {
			if !includeDeleted {
				continue
			}
			ev.Deleted = true
		}
		visible = append(visible, ev)
	}

	hasMore := stoppedEarly || len(raw) >= rawLimit
	return storage.ReadResult{Events: visible, HasMore: hasMore}
}
