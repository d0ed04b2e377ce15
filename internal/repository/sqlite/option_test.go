package sqlite

import (
	"context"
	"testing"
)

type testOptions struct {
	AntiSpam  bool `json:"antiSpam"`
	Threshold int  `json:"aiReviewThreshold"`
}

func TestOptions_SaveLoadReplace(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var got testOptions
	found, err := db.LoadOption(ctx, "commentOptions", &got)
	if err != nil || found {
		t.Fatalf("LoadOption() on empty table = %v, %v", found, err)
	}

	if err := db.SaveOption(ctx, "commentOptions", testOptions{AntiSpam: true, Threshold: 3}); err != nil {
		t.Fatalf("SaveOption() error = %v", err)
	}
	if err := db.SaveOption(ctx, "commentOptions", testOptions{AntiSpam: true, Threshold: 7}); err != nil {
		t.Fatalf("SaveOption() replace error = %v", err)
	}

	found, err = db.LoadOption(ctx, "commentOptions", &got)
	if err != nil || !found {
		t.Fatalf("LoadOption() = %v, %v", found, err)
	}
	if !got.AntiSpam || got.Threshold != 7 {
		t.Errorf("LoadOption() = %+v, want latest value", got)
	}
}
