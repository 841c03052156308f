package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "github.com/torgash1221/ig-autoposter/pkg/logx"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "content.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestAddAndGetCandidates(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	id1, err := st.AddContent(ctx, ContentItem{Business: "oysterco", MediaRef: "file-1", Tags: []string{"promo"}, Priority: 3})
	if err != nil {
		t.Fatalf("AddContent: %v", err)
	}
	if _, err := st.AddContent(ctx, ContentItem{Business: "oysterco", MediaRef: "file-2"}); err != nil {
		t.Fatalf("AddContent: %v", err)
	}
	if _, err := st.AddContent(ctx, ContentItem{Business: "mythai", MediaRef: "file-3"}); err != nil {
		t.Fatalf("AddContent: %v", err)
	}

	all, err := st.GetCandidates(ctx, "oysterco", "")
	if err != nil {
		t.Fatalf("GetCandidates: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("candidates = %d, want 2", len(all))
	}
	if all[0].ID != id1 || all[0].Priority != 3 || all[0].Kind != KindGeneric {
		t.Fatalf("unexpected first item: %+v", all[0])
	}
	if all[0].UsedCount != 0 || all[0].LastUsed != nil {
		t.Fatalf("fresh item should be unused: %+v", all[0])
	}

	tagged, err := st.GetCandidates(ctx, "oysterco", "promo")
	if err != nil {
		t.Fatalf("GetCandidates(tag): %v", err)
	}
	if len(tagged) != 1 || tagged[0].ID != id1 {
		t.Fatalf("tag filter returned %+v", tagged)
	}
}

func TestCommitPublishIsAtomic(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	id, err := st.AddContent(ctx, ContentItem{Business: "oysterco", MediaRef: "file-1"})
	if err != nil {
		t.Fatalf("AddContent: %v", err)
	}
	at := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	if err := st.CommitPublish(ctx, "oysterco", id, at); err != nil {
		t.Fatalf("CommitPublish: %v", err)
	}

	item, err := st.GetItem(ctx, id)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if item.UsedCount != 1 {
		t.Fatalf("used_count = %d, want 1", item.UsedCount)
	}
	if item.LastUsed == nil || !item.LastUsed.Equal(at) {
		t.Fatalf("last_used = %v, want %v", item.LastUsed, at)
	}

	used, err := st.LoggedContentIDs(ctx, "oysterco")
	if err != nil {
		t.Fatalf("LoggedContentIDs: %v", err)
	}
	if len(used) != 1 {
		t.Fatalf("log rows = %d, want 1", len(used))
	}
	if _, ok := used[id]; !ok {
		t.Fatalf("log does not contain %d", id)
	}
}

func TestCommitPublishUnknownID(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	err := st.CommitPublish(ctx, "oysterco", 999, time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	// The failed commit must leave no log row behind.
	used, err := st.LoggedContentIDs(ctx, "oysterco")
	if err != nil {
		t.Fatalf("LoggedContentIDs: %v", err)
	}
	if len(used) != 0 {
		t.Fatalf("log rows = %d, want 0", len(used))
	}
}

func TestMarkUsedIncrements(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	id, err := st.AddContent(ctx, ContentItem{Business: "oysterco", MediaRef: "file-1"})
	if err != nil {
		t.Fatalf("AddContent: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if err := st.MarkUsed(ctx, id, time.Now()); err != nil {
			t.Fatalf("MarkUsed #%d: %v", i, err)
		}
	}
	item, err := st.GetItem(ctx, id)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if item.UsedCount != 3 {
		t.Fatalf("used_count = %d, want 3", item.UsedCount)
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	if err := st.AddSchedule(ctx, "oysterco", "18:00"); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	// Re-adding the same pair must not create a duplicate row.
	if err := st.AddSchedule(ctx, "oysterco", "18:00"); err != nil {
		t.Fatalf("AddSchedule again: %v", err)
	}
	if err := st.AddSchedule(ctx, "mythai", "30 12 * * *"); err != nil {
		t.Fatalf("AddSchedule cron: %v", err)
	}

	entries, err := st.LoadSchedule(ctx)
	if err != nil {
		t.Fatalf("LoadSchedule: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Business != "oysterco" || entries[0].TimeSpec != "18:00" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
}

func TestDeleteContent(t *testing.T) {
	st := openTest(t)
	ctx := context.Background()

	id, err := st.AddContent(ctx, ContentItem{Business: "oysterco", MediaRef: "file-1"})
	if err != nil {
		t.Fatalf("AddContent: %v", err)
	}
	if err := st.DeleteContent(ctx, id); err != nil {
		t.Fatalf("DeleteContent: %v", err)
	}
	if err := st.DeleteContent(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}
