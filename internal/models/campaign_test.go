package models

import "testing"

func TestIsValidCampaignTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{CampaignStatusDraft, CampaignStatusActive, true},
		{CampaignStatusActive, CampaignStatusPaused, true},
		{CampaignStatusPaused, CampaignStatusActive, true},
		{CampaignStatusActive, CampaignStatusCompleted, true},
		{CampaignStatusActive, CampaignStatusFailed, true},
		{CampaignStatusPaused, CampaignStatusCompleted, true},
		{CampaignStatusPaused, CampaignStatusFailed, true},

		// Cancellation paths
		{CampaignStatusDraft, CampaignStatusCancelled, true},
		{CampaignStatusActive, CampaignStatusCancelled, true},
		{CampaignStatusPaused, CampaignStatusCancelled, true},

		// Terminal statuses have no exits
		{CampaignStatusCompleted, CampaignStatusActive, false},
		{CampaignStatusCompleted, CampaignStatusFailed, false},
		{CampaignStatusCancelled, CampaignStatusActive, false},
		{CampaignStatusFailed, CampaignStatusActive, false},
		{CampaignStatusFailed, CampaignStatusCompleted, false},

		// Invalid transitions
		{CampaignStatusDraft, CampaignStatusPaused, false},
		{CampaignStatusDraft, CampaignStatusCompleted, false},
		{CampaignStatusDraft, CampaignStatusFailed, false},
		{"nonexistent", CampaignStatusActive, false},
		{CampaignStatusDraft, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidCampaignTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidCampaignTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestAllStatusesHaveTransitionEntry(t *testing.T) {
	allStatuses := []string{
		CampaignStatusDraft, CampaignStatusActive, CampaignStatusPaused,
		CampaignStatusCompleted, CampaignStatusCancelled, CampaignStatusFailed,
	}

	for _, status := range allStatuses {
		if _, ok := ValidCampaignTransitions[status]; !ok {
			t.Errorf("status %q missing from ValidCampaignTransitions map", status)
		}
	}
}

func batchesWith(statuses ...string) []Batch {
	out := make([]Batch, len(statuses))
	for i, s := range statuses {
		out[i] = Batch{BatchNumber: i + 1, Status: s}
	}
	return out
}

func TestReconcileFromBatches(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		expected string
	}{
		{"no batches", nil, ""},
		{"all completed", []string{BatchStatusCompleted, BatchStatusCompleted, BatchStatusCompleted}, CampaignStatusCompleted},
		{"single completed", []string{BatchStatusCompleted}, CampaignStatusCompleted},
		{"all scheduled", []string{BatchStatusScheduled, BatchStatusScheduled}, ""},
		{"partial progress stays active", []string{BatchStatusCompleted, BatchStatusScheduled, BatchStatusScheduled}, ""},
		{"failed with none in progress", []string{BatchStatusCompleted, BatchStatusFailed, BatchStatusScheduled}, CampaignStatusFailed},
		{"failed but one in progress", []string{BatchStatusCompleted, BatchStatusFailed, BatchStatusInProgress}, ""},
		{"only in progress", []string{BatchStatusInProgress, BatchStatusInProgress}, ""},
		{"submission failure counts as failed", []string{BatchStatusSubmissionFailed, BatchStatusScheduled}, CampaignStatusFailed},
		{"all failed", []string{BatchStatusFailed, BatchStatusFailed}, CampaignStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ReconcileFromBatches(batchesWith(tt.statuses...))
			if result != tt.expected {
				t.Errorf("ReconcileFromBatches(%v) = %q, want %q", tt.statuses, result, tt.expected)
			}
		})
	}
}

// Reconciliation must be safe to invoke repeatedly with no intervening batch
// change: the derived status never flaps.
func TestReconcileFromBatchesIdempotent(t *testing.T) {
	batches := batchesWith(BatchStatusCompleted, BatchStatusFailed, BatchStatusScheduled)

	first := ReconcileFromBatches(batches)
	second := ReconcileFromBatches(batches)
	if first != second {
		t.Errorf("reconciliation not idempotent: first=%q second=%q", first, second)
	}
	if first != CampaignStatusFailed {
		t.Errorf("expected failed, got %q", first)
	}
}

// All batches reaching completed, in any order, must settle on completed
// without passing through failed.
func TestReconcileCompletionInterleavings(t *testing.T) {
	orders := [][]int{
		{0, 1, 2},
		{2, 1, 0},
		{1, 0, 2},
		{2, 0, 1},
	}

	for _, order := range orders {
		batches := batchesWith(BatchStatusScheduled, BatchStatusScheduled, BatchStatusScheduled)
		for _, idx := range order {
			batches[idx].Status = BatchStatusCompleted
			got := ReconcileFromBatches(batches)
			if got == CampaignStatusFailed {
				t.Fatalf("order %v: flapped to failed mid-completion", order)
			}
		}
		if got := ReconcileFromBatches(batches); got != CampaignStatusCompleted {
			t.Errorf("order %v: final status %q, want completed", order, got)
		}
	}
}

func TestMessageContentValidate(t *testing.T) {
	tests := []struct {
		name    string
		content MessageContent
		wantErr bool
	}{
		{"text ok", MessageContent{Kind: ContentKindText, Text: &TextContent{Body: "hi {name}"}}, false},
		{"text missing body", MessageContent{Kind: ContentKindText, Text: &TextContent{}}, true},
		{"media ok", MessageContent{Kind: ContentKindMedia, Media: &MediaContent{MediaType: "image", Link: "https://cdn/x.jpg"}}, false},
		{"media missing link", MessageContent{Kind: ContentKindMedia, Media: &MediaContent{MediaType: "image"}}, true},
		{"interactive ok", MessageContent{Kind: ContentKindInteractive, Interactive: &InteractiveContent{Body: "b", Buttons: []InteractiveButton{{ID: "1", Title: "Yes"}}}}, false},
		{"interactive no buttons", MessageContent{Kind: ContentKindInteractive, Interactive: &InteractiveContent{Body: "b"}}, true},
		{"location ok", MessageContent{Kind: ContentKindLocation, Location: &LocationContent{Latitude: 1, Longitude: 2}}, false},
		{"template ok", MessageContent{Kind: ContentKindTemplate, Template: &TemplateContent{Name: "promo", Language: "en"}}, false},
		{"template missing name", MessageContent{Kind: ContentKindTemplate, Template: &TemplateContent{Language: "en"}}, true},
		{"unknown kind", MessageContent{Kind: "sticker"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.content.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
