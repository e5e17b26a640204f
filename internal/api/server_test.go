package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"auction-ledger/internal/bids"
	"auction-ledger/internal/config"
	"auction-ledger/internal/engine"
	"auction-ledger/internal/funds"
	"auction-ledger/internal/items"
	"auction-ledger/internal/kv"
	"auction-ledger/internal/lease"
	"auction-ledger/internal/models"
	"auction-ledger/internal/notify"
	"auction-ledger/internal/registry"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testAPI struct {
	srv   *httptest.Server
	items *items.Registry
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := kv.NewRedisStore(client, "api-test")

	ledger := funds.NewLedger(store).WithFee(250, "treasury")
	itemReg := items.NewRegistry(store)
	auctionReg := registry.New(store)
	bidLedger := bids.NewLedger(store, ledger)
	eng := engine.New(auctionReg, bidLedger, ledger, itemReg, &notify.Memory{}, lease.New(client, time.Minute))

	srv := httptest.NewServer(New(config.Config{}, eng, ledger, nil).Router())
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, items: itemReg}
}

func (a *testAPI) do(t *testing.T, method, path, principal string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if principal != "" {
		req.Header.Set("X-Principal", principal)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestAuctionLifecycleOverHTTP(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodPost, "/auctions", "alice", map[string]string{
		"begin_price":  "100",
		"minimum_step": "10",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d", resp.StatusCode)
	}
	var created struct {
		ID uint64 `json:"id"`
	}
	decodeJSON(t, resp, &created)

	if err := a.items.Register(context.Background(), "kitty-1", "alice"); err != nil {
		t.Fatalf("register item: %v", err)
	}
	base := fmt.Sprintf("/auctions/%d", created.ID)

	if resp := a.do(t, http.MethodPost, base+"/item", "alice", map[string]string{"item": "kitty-1"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("bind item: status %d", resp.StatusCode)
	}
	if resp := a.do(t, http.MethodPost, base+"/timing", "alice", map[string]string{"wait_period": "60s"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("timing: status %d", resp.StatusCode)
	}
	if resp := a.do(t, http.MethodPost, base+"/start", "alice", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status %d", resp.StatusCode)
	}

	if resp := a.do(t, http.MethodPost, "/funds/deposit", "", map[string]string{"principal": "bob", "amount": "500"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("deposit: status %d", resp.StatusCode)
	}
	if resp := a.do(t, http.MethodPost, base+"/bids", "bob", map[string]string{"price": "120"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("bid: status %d", resp.StatusCode)
	}

	resp = a.do(t, http.MethodGet, base+"/bids/bob", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get bid: status %d", resp.StatusCode)
	}
	var bid struct {
		Amount string `json:"amount"`
	}
	decodeJSON(t, resp, &bid)
	if bid.Amount != "120" {
		t.Fatalf("expected escrowed bid 120, got %s", bid.Amount)
	}

	resp = a.do(t, http.MethodGet, "/auctions/active", "", nil)
	var listing struct {
		Auctions []models.Auction `json:"auctions"`
	}
	decodeJSON(t, resp, &listing)
	if len(listing.Auctions) != 1 || listing.Auctions[0].ID != created.ID {
		t.Fatalf("active listing: %+v", listing.Auctions)
	}

	if resp := a.do(t, http.MethodPost, base+"/stop", "alice", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: status %d", resp.StatusCode)
	}

	resp = a.do(t, http.MethodGet, base, "", nil)
	var record models.Auction
	decodeJSON(t, resp, &record)
	if record.Status != models.StatusStopped || record.Settlement == nil || record.Settlement.Winner != "bob" {
		t.Fatalf("unexpected final record: %+v", record)
	}

	resp = a.do(t, http.MethodGet, "/funds/alice", "", nil)
	var seller funds.Account
	decodeJSON(t, resp, &seller)
	if !seller.Available.Equal(dec("117")) {
		t.Fatalf("seller proceeds after 2.5%% fee: want 117, got %s", seller.Available)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	a := newTestAPI(t)

	// Unknown auction.
	if resp := a.do(t, http.MethodPost, "/auctions/999/pause", "alice", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown auction: status %d", resp.StatusCode)
	}

	resp := a.do(t, http.MethodPost, "/auctions", "alice", map[string]string{
		"begin_price":  "100",
		"minimum_step": "10",
	})
	var created struct {
		ID uint64 `json:"id"`
	}
	decodeJSON(t, resp, &created)
	base := fmt.Sprintf("/auctions/%d", created.ID)

	// Creating requires a principal.
	if resp := a.do(t, http.MethodPost, "/auctions", "", map[string]string{"begin_price": "1", "minimum_step": "1"}); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing principal: status %d", resp.StatusCode)
	}

	// Invalid parameters.
	if resp := a.do(t, http.MethodPost, "/auctions", "alice", map[string]string{"begin_price": "100", "minimum_step": "0"}); resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("zero step: status %d", resp.StatusCode)
	}

	// Wrong state.
	if resp := a.do(t, http.MethodPost, base+"/pause", "alice", nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("pause while pending: status %d", resp.StatusCode)
	}

	if err := a.items.Register(context.Background(), "kitty-1", "alice"); err != nil {
		t.Fatalf("register item: %v", err)
	}
	a.do(t, http.MethodPost, base+"/item", "alice", map[string]string{"item": "kitty-1"})
	a.do(t, http.MethodPost, base+"/start", "alice", nil)

	// Wrong principal.
	if resp := a.do(t, http.MethodPost, base+"/pause", "mallory", nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-owner pause: status %d", resp.StatusCode)
	}

	// Bid below the opening price.
	a.do(t, http.MethodPost, "/funds/deposit", "", map[string]string{"principal": "bob", "amount": "500"})
	if resp := a.do(t, http.MethodPost, base+"/bids", "bob", map[string]string{"price": "50"}); resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("low bid: status %d", resp.StatusCode)
	}

	// Bid beyond the account balance.
	if resp := a.do(t, http.MethodPost, base+"/bids", "bob", map[string]string{"price": "600"}); resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unfunded bid: status %d", resp.StatusCode)
	}

	// Escrow query with no bid on record.
	if resp := a.do(t, http.MethodGet, base+"/bids/carol", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing bid: status %d", resp.StatusCode)
	}

	// Stopping twice.
	a.do(t, http.MethodPost, base+"/stop", "alice", nil)
	if resp := a.do(t, http.MethodPost, base+"/stop", "alice", nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("double stop: status %d", resp.StatusCode)
	}
}
