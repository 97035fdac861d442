package market

import "testing"

func TestWatchSetSeedAlias(t *testing.T) {
	cases := []struct {
		name       string
		registered string
		probe      string
		want       bool
	}{
		{"suffixed registration watches base", "carrot_seed", "carrot", true},
		{"suffixed registration watches itself", "carrot_seed", "carrot_seed", true},
		{"base registration watches suffixed", "carrot", "carrot_seed", true},
		{"base registration watches itself", "carrot", "carrot", true},
		{"unrelated id not watched", "carrot_seed", "tomato", false},
		{"non-seed suffix is not aliased", "watering_can", "watering", false},
		{"case insensitive", "Carrot_Seed", "CARROT", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := NewWatchSet(tc.registered)
			if got := w.Contains(tc.probe); got != tc.want {
				t.Fatalf("Contains(%q) after Add(%q) = %v, want %v", tc.probe, tc.registered, got, tc.want)
			}
		})
	}
}

func TestWatchSetReplace(t *testing.T) {
	w := NewWatchSet("carrot_seed", "tomato")
	w.Replace([]string{"pumpkin_seed"})

	if w.Contains("carrot") || w.Contains("tomato") {
		t.Fatalf("old ids survived Replace: %v", w.IDs())
	}
	if !w.Contains("pumpkin") {
		t.Fatal("replaced id not watched")
	}
	if got := w.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}
}

func TestWatchSetRemove(t *testing.T) {
	w := NewWatchSet("carrot")
	w.Remove("carrot_seed")
	if w.Contains("carrot") {
		t.Fatal("Remove through alias did not drop the identity")
	}
}

func TestWatchSetNilSafe(t *testing.T) {
	var w *WatchSet
	if w.Contains("carrot") {
		t.Fatal("nil WatchSet must watch nothing")
	}
	if w.Len() != 0 {
		t.Fatal("nil WatchSet must be empty")
	}
}
