package storage

import "testing"

func TestSaveAndListRecentMessages(t *testing.T) {
	store := newTestStore(t)

	entries := []Message{
		{MessageID: "m1", Kind: MessageKindInfo, Content: "Red Fox joined", ReceivedAt: 1000},
		{MessageID: "m2", Kind: MessageKindMessage, FromID: "b2", FromName: "Blue Whale", DataType: "text", Content: "hi", ReceivedAt: 2000},
		{MessageID: "m3", Kind: MessageKindFiles, FromID: "b2", FromName: "Blue Whale", DataType: "files", Content: "test.txt", ReceivedAt: 3000},
	}
	for _, entry := range entries {
		if err := store.SaveMessage(entry); err != nil {
			t.Fatalf("SaveMessage(%s) failed: %v", entry.MessageID, err)
		}
	}

	recent, err := store.RecentMessages(2)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(recent))
	}
	if recent[0].MessageID != "m2" || recent[1].MessageID != "m3" {
		t.Fatalf("expected oldest-first [m2 m3], got [%s %s]", recent[0].MessageID, recent[1].MessageID)
	}
	if recent[0].FromName != "Blue Whale" || recent[0].DataType != "text" {
		t.Fatalf("unexpected scanned message: %+v", recent[0])
	}

	all, err := store.RecentMessages(0)
	if err != nil {
		t.Fatalf("RecentMessages default limit failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(all))
	}
	if all[0].FromID != "" {
		t.Fatalf("expected empty from id for info row, got %q", all[0].FromID)
	}
}

func TestSaveMessageValidation(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveMessage(Message{Kind: MessageKindMessage, Content: "x"}); err == nil {
		t.Fatalf("expected error for missing id")
	}
	if err := store.SaveMessage(Message{MessageID: "m1", Kind: "bogus", Content: "x"}); err == nil {
		t.Fatalf("expected error for invalid kind")
	}
	if err := store.SaveMessage(Message{MessageID: "m1", Kind: MessageKindMessage, Content: "x"}); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}
	if err := store.SaveMessage(Message{MessageID: "m1", Kind: MessageKindMessage, Content: "x"}); err == nil {
		t.Fatalf("expected duplicate id to fail")
	}
}

func TestPruneMessagesBefore(t *testing.T) {
	store := newTestStore(t)

	for i, ts := range []int64{100, 200, 300} {
		err := store.SaveMessage(Message{
			MessageID:  string(rune('a' + i)),
			Kind:       MessageKindMessage,
			Content:    "x",
			ReceivedAt: ts,
		})
		if err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}

	deleted, err := store.PruneMessagesBefore(250)
	if err != nil {
		t.Fatalf("PruneMessagesBefore failed: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 pruned rows, got %d", deleted)
	}

	remaining, err := store.RecentMessages(10)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].MessageID != "c" {
		t.Fatalf("unexpected remaining rows: %+v", remaining)
	}
}
