package memchannel

import (
	"context"
	"sync"
	"testing"

	"github.com/wisbric/gatewayd/internal/storage"
)

func TestAppendAssignsGapFreeStrictlyIncreasingSeq(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _ = s.Create(ctx, "ch1", "test", "ns1", []byte("secret"))

	e1, _ := s.Append(ctx, "ch1", storage.AppendInput{AuthorID: "a", Content: "a"})
	e2, _ := s.Append(ctx, "ch1", storage.AppendInput{AuthorID: "a", Content: "b"})
	e3, _ := s.Append(ctx, "ch1", storage.AppendInput{AuthorID: "a", Content: "c"})

	if e1.Seq != 1 || e2.Seq != 2 || e3.Seq != 3 {
		t.Errorf("seqs = %d,%d,%d, want 1,2,3", e1.Seq, e2.Seq, e3.Seq)
	}
}

func TestConcurrentAppendsYieldUniqueSeqs(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _ = s.Create(ctx, "ch1", "test", "ns1", []byte("secret"))

	const n = 200
	var wg sync.WaitGroup
	seqs := make([]int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev, err := s.Append(ctx, "ch1", storage.AppendInput{AuthorID: "a", Content: "x"})
			if err != nil {
				t.Errorf("Append() error: %v", err)
			}
			seqs[i] = ev.Seq
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, sq := range seqs {
		if seen[sq] {
			t.Fatalf("duplicate seq %d", sq)
		}
		seen[sq] = true
	}
	for i := int64(1); i <= n; i++ {
		if !seen[i] {
			t.Fatalf("gap: missing seq %d", i)
		}
	}
}

func TestReadSoftDeleteFiltering(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _ = s.Create(ctx, "ch1", "test", "ns1", []byte("secret"))

	_, _ = s.Append(ctx, "ch1", storage.AppendInput{AuthorID: "a", Content: "a"}) // seq 1
	_, _ = s.Append(ctx, "ch1", storage.AppendInput{AuthorID: "a", Content: "b"}) // seq 2
	_, _ = s.Append(ctx, "ch1", storage.AppendInput{AuthorID: "a", Content: "c"}) // seq 3
	delEv, err := s.AppendDeletion(ctx, "ch1", storage.AppendDeletionInput{AuthorID: "a", TargetSeq: 2})
	if err != nil {
		t.Fatalf("AppendDeletion() error: %v", err)
	}
	if delEv.Seq != 4 {
		t.Fatalf("deletion seq = %d, want 4", delEv.Seq)
	}

	res, err := s.Read(ctx, "ch1", storage.ReadOptions{Limit: 10})
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if len(res.Events) != 2 || res.Events[0].Seq != 1 || res.Events[1].Seq != 3 {
		t.Errorf("Read() events = %+v, want seqs 1,3", res.Events)
	}

	res2, err := s.Read(ctx, "ch1", storage.ReadOptions{Limit: 10, IncludeDeleted: true})
	if err != nil {
		t.Fatalf("Read(includeDeleted) error: %v", err)
	}
	if len(res2.Events) != 3 {
		t.Fatalf("Read(includeDeleted) events = %+v, want 3", res2.Events)
	}
	if !res2.Events[1].Deleted || res2.Events[1].Seq != 2 {
		t.Errorf("Read(includeDeleted) events[1] = %+v, want seq 2 deleted=true", res2.Events[1])
	}
	for _, ev := range res2.Events {
		if ev.Type == storage.ChannelEventDeletion {
			t.Errorf("deletion event surfaced as a raw event: %+v", ev)
		}
	}
}
