package telegram

import (
	"strings"
	"testing"
	"time"

	"github.com/WilardzySenpai/grow-garden-guru-sub001/market"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/pkg/logx"
)

func TestFormat(t *testing.T) {
	ev := market.RestockEvent{
		ItemID:      "carrot_seed",
		DisplayName: "Carrot Seed",
		Category:    market.CategorySeed,
		Quantity:    12,
		IsRestock:   true,
		DetectedAt:  time.Date(2026, 8, 30, 14, 5, 0, 0, time.UTC),
	}
	msg := Format(ev)
	for _, want := range []string{"*Carrot Seed*", "(seed)", "Quantity: 12", "14:05:00"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Format missing %q in %q", want, msg)
		}
	}
}

func TestFormatFallsBackToItemID(t *testing.T) {
	msg := Format(market.RestockEvent{ItemID: "bug_egg", Quantity: 1})
	if !strings.Contains(msg, "*bug_egg*") {
		t.Fatalf("Format = %q, want item id as name", msg)
	}
	if strings.Contains(msg, "Detected:") {
		t.Fatalf("Format = %q, zero DetectedAt must omit the line", msg)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Token: "", ChatID: 1}, logx.Nop()); err == nil {
		t.Fatal("empty token must error")
	}
	if _, err := New(Config{Token: "x", ChatID: 0}, logx.Nop()); err == nil {
		t.Fatal("empty chat id must error")
	}
}
