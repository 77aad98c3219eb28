package channel

import (
	"context"
	"testing"
	"time"

	"github.com/wisbric/gatewayd/internal/token/capability"
	"github.com/wisbric/gatewayd/internal/storage"
	"github.com/wisbric/gatewayd/storage/channel/memchannel"
	"github.com/wisbric/gatewayd/storage/kv/memkv"
)

func newTestEngine() *Engine {
	return NewEngine(memchannel.New(), memkv.New())
}

func TestCreateAndList(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	meta, err := e.Create(ctx, "ns1", "room")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	metas, err := e.List(ctx, "ns1")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(metas) != 1 || metas[0].ChannelID != meta.ChannelID {
		t.Errorf("List() = %+v, want one entry for %s", metas, meta.ChannelID)
	}

	otherMetas, err := e.List(ctx, "ns2")
	if err != nil {
		t.Fatalf("List(ns2) error: %v", err)
	}
	if len(otherMetas) != 0 {
		t.Errorf("List(ns2) = %+v, want empty", otherMetas)
	}
}

func TestAppendRejectsOversizedContent(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	meta, _ := e.Create(ctx, "ns1", "room")

	oversized := make([]byte, MaxContentLength+1)
	for i := range oversized {
		oversized[i] = 'a'
	}

	_, err := e.Append(ctx, meta.ChannelID, "alice", string(oversized))
	if err != ErrContentTooLong {
		t.Errorf("Append() error = %v, want ErrContentTooLong", err)
	}
}

func TestAppendDeletionAuthorization(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	meta, _ := e.Create(ctx, "ns1", "room")

	ev, err := e.Append(ctx, meta.ChannelID, "alice", "hi")
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	if _, err := e.AppendDeletion(ctx, meta.ChannelID, "bob", ev.Seq, false); err != ErrForbidden {
		t.Errorf("delete:own by non-author: error = %v, want ErrForbidden", err)
	}

	del, err := e.AppendDeletion(ctx, meta.ChannelID, "alice", ev.Seq, false)
	if err != nil {
		t.Fatalf("delete:own by author: error = %v", err)
	}
	if del.Type != "deletion" || del.TargetSeq != ev.Seq {
		t.Errorf("deletion event = %+v", del)
	}
}

func TestAppendDeletionAllowAnyBypassesAuthorCheck(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	meta, _ := e.Create(ctx, "ns1", "room")
	ev, _ := e.Append(ctx, meta.ChannelID, "alice", "hi")

	if _, err := e.AppendDeletion(ctx, meta.ChannelID, "bob", ev.Seq, true); err != nil {
		t.Errorf("delete:any should succeed regardless of author: %v", err)
	}
}

func TestIssueAndVerifyTokenRoundTrip(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	meta, _ := e.Create(ctx, "ns1", "room")

	raw, err := e.IssueToken(ctx, meta.ChannelID, []capability.Permission{capability.PermRead, capability.PermAppend}, "alice", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}

	claims, err := e.VerifyToken(ctx, meta.ChannelID, raw)
	if err != nil {
		t.Fatalf("VerifyToken() error: %v", err)
	}
	if claims.ChannelID != meta.ChannelID || !claims.Has(capability.PermAppend) {
		t.Errorf("claims = %+v", claims)
	}
}

func TestVerifyTokenRejectsMismatchedChannel(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	metaA, _ := e.Create(ctx, "ns1", "a")
	metaB, _ := e.Create(ctx, "ns1", "b")

	raw, err := e.IssueToken(ctx, metaA.ChannelID, []capability.Permission{capability.PermRead}, "alice", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error: %v", err)
	}

	if _, err := e.VerifyToken(ctx, metaB.ChannelID, raw); err == nil {
		t.Error("VerifyToken() should reject a token issued for a different channel")
	}
}

func TestReadReflectsAppends(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	meta, _ := e.Create(ctx, "ns1", "room")

	e.Append(ctx, meta.ChannelID, "alice", "a")
	e.Append(ctx, meta.ChannelID, "alice", "b")

	res, err := e.Read(ctx, meta.ChannelID, storage.ReadOptions{Limit: 10})
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if len(res.Events) != 2 || res.Events[0].Content != "a" || res.Events[1].Content != "b" {
		t.Errorf("Read() events = %+v", res.Events)
	}
}

func TestSubscribeNotifyWithoutNotifierNeverFires(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	meta, _ := e.Create(ctx, "ns1", "room")

	ch, cleanup := e.subscribeNotify(ctx, meta.ChannelID)
	defer cleanup()
	if ch != nil {
		t.Fatalf("subscribeNotify() channel = %v, want nil without a configured notifier", ch)
	}

	// Append must not panic or block when no Redis notifier is configured;
	// it falls back to pollInterval silently.
	if _, err := e.Append(ctx, meta.ChannelID, "alice", "c"); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
}
