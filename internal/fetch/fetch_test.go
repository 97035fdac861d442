package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/WilardzySenpai/grow-garden-guru-sub001/market"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/pkg/logx"
)

func TestFetchNormalizesArrayPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stock/seed" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, `[{"item_id":"carrot_seed","quantity":4}]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, logx.Nop())
	snap, err := c.Fetch(context.Background(), market.CategorySeed)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(snap.Items) != 1 || snap.Items[0].ItemID != "carrot_seed" || snap.Items[0].Quantity != 4 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.FetchedAt.IsZero() {
		t.Fatal("FetchedAt not stamped")
	}
}

func TestFetchEnvelopePayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"gear":[{"item_id":"trowel","quantity":1}],"noise":true}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, logx.Nop())
	snap, err := c.Fetch(context.Background(), market.CategoryGear)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(snap.Items) != 1 || snap.Items[0].ItemID != "trowel" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestFetchMalformedPayloadIsEmptyNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"seed":"not-an-array"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, logx.Nop())
	snap, err := c.Fetch(context.Background(), market.CategorySeed)
	if err != nil {
		t.Fatalf("malformed payload must not be an error: %v", err)
	}
	if len(snap.Items) != 0 {
		t.Fatalf("snapshot = %+v, want empty", snap)
	}
}

func TestFetchNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, logx.Nop())
	_, err := c.Fetch(context.Background(), market.CategoryEgg)
	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *fetch.Error", err)
	}
	if fe.Category != market.CategoryEgg || fe.Status != http.StatusBadGateway {
		t.Fatalf("error = %+v", fe)
	}
}

func TestFetchAllIsolatesFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path == "/stock/seed" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `[{"item_id":"egg","quantity":2}]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, logx.Nop())
	results := c.FetchAll(context.Background(), []market.Category{market.CategorySeed, market.CategoryEgg})

	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
	if results[0].Err == nil {
		t.Fatal("seed failure swallowed")
	}
	if results[1].Err != nil {
		t.Fatalf("egg fetch failed alongside seed: %v", results[1].Err)
	}
	if len(results[1].Snapshot.Items) != 1 {
		t.Fatalf("egg snapshot = %+v", results[1].Snapshot)
	}
}

func TestFetchHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewClient(srv.URL, logx.Nop())
	if _, err := c.Fetch(ctx, market.CategorySeed); err == nil {
		t.Fatal("cancelled context must fail the fetch")
	}
}
