package core

import (
	"fmt"
	"testing"
)

func email(id string, ts int64) *ProcessedEmail {
	return &ProcessedEmail{MessageID: id, InternalDate: ts}
}

func TestMergeEmailsNewWinsAndSorted(t *testing.T) {
	existing := []*ProcessedEmail{email("a", 300), email("b", 200), email("c", 100)}
	replacement := email("b", 200)
	replacement.Subject = "new"
	incoming := []*ProcessedEmail{email("d", 400), replacement}

	got := MergeEmails(existing, incoming, 10)

	ids := ""
	for _, e := range got {
		ids += e.MessageID
	}
	if ids != "dabc" {
		t.Errorf("order = %s, want dabc", ids)
	}
	if got[2] != replacement {
		t.Error("incoming entry must win on duplicate id")
	}
}

func TestMergeEmailsRetentionCap(t *testing.T) {
	var existing []*ProcessedEmail
	for i := 0; i < 100; i++ {
		existing = append(existing, email(fmt.Sprintf("old-%d", i), int64(1000-i)))
	}
	incoming := []*ProcessedEmail{email("new-1", 5000), email("new-2", 1)}

	got := MergeEmails(existing, incoming, 100)
	if len(got) != 100 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].MessageID != "new-1" {
		t.Errorf("newest first, got %s", got[0].MessageID)
	}
	for _, e := range got {
		if e.MessageID == "new-2" {
			t.Error("oldest entry should have been dropped")
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].InternalDate < got[i].InternalDate {
			t.Fatalf("not sorted at %d", i)
		}
	}
}

func TestMergeEmailsDefaultLimit(t *testing.T) {
	var incoming []*ProcessedEmail
	for i := 0; i < 150; i++ {
		incoming = append(incoming, email(fmt.Sprint(i), int64(i)))
	}
	if got := MergeEmails(nil, incoming, 0); len(got) != DefaultRetention {
		t.Errorf("len = %d", len(got))
	}
}

func TestAdvanceWatermark(t *testing.T) {
	if got := AdvanceWatermark(100, 50, 120, 90); got != 120 {
		t.Errorf("got %d", got)
	}
	if got := AdvanceWatermark(100, 10); got != 100 {
		t.Errorf("watermark regressed to %d", got)
	}
	if got := AdvanceWatermark(100); got != 100 {
		t.Errorf("got %d", got)
	}
}
