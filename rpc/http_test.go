package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"statechan/crypto"
	"statechan/native/channel"
	"statechan/native/dispute"
	"statechan/storage"
	"statechan/storage/channelstore"
)

type allowAll struct{}

func (allowAll) IsAuthorizedSigner([20]byte) bool { return true }
func (allowAll) QuorumThreshold() uint8           { return 1 }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := channelstore.NewStore(storage.NewMemDB())

	engine := channel.NewEngine()
	engine.SetState(store)

	disputes := dispute.NewEngine()
	disputes.SetState(store)
	disputes.SetAuthorizationQuorum(allowAll{})

	registry := channel.NewRegistry(engine, nil)
	server := NewServer(registry, disputes, slog.Default(), 600, nil)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts
}

type testResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

func call(t *testing.T, ts *httptest.Server, method string, params interface{}) testResponse {
	t.Helper()
	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		body["params"] = params
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(ts.URL, "application/json", bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var decoded testResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return decoded
}

func testAddresses(t *testing.T, n int) []string {
	t.Helper()
	addrs := make([]string, n)
	for i := range addrs {
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		addrs[i] = key.PubKey().Address().String()
	}
	return addrs
}

func testChannelID(fill byte) string {
	var id [32]byte
	for i := range id {
		id[i] = fill
	}
	return hex.EncodeToString(id[:])
}

func TestChannelOpenAndGet(t *testing.T) {
	ts := newTestServer(t)
	id := testChannelID(0x01)
	participants := testAddresses(t, 3)

	resp := call(t, ts, "channel_open", channelOpenParams{
		ID:             id,
		Participants:   participants,
		TimeoutSeconds: 3600,
	})
	if resp.Error != nil {
		t.Fatalf("open failed: %+v", resp.Error)
	}
	var opened channelJSON
	if err := json.Unmarshal(resp.Result, &opened); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if opened.Status != "active" {
		t.Fatalf("expected active channel, got %q", opened.Status)
	}
	if len(opened.Participants) != 3 {
		t.Fatalf("expected 3 participants, got %d", len(opened.Participants))
	}

	resp = call(t, ts, "channel_get", channelIDParams{ID: id})
	if resp.Error != nil {
		t.Fatalf("get failed: %+v", resp.Error)
	}
	var loaded channelJSON
	if err := json.Unmarshal(resp.Result, &loaded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if loaded.ID != id || loaded.Nonce != 0 {
		t.Fatalf("unexpected channel: %+v", loaded)
	}
}

func TestChannelGetUnknown(t *testing.T) {
	ts := newTestServer(t)
	resp := call(t, ts, "channel_get", channelIDParams{ID: testChannelID(0x7F)})
	if resp.Error == nil || resp.Error.Code != codeNotFound {
		t.Fatalf("expected not-found error, got %+v", resp.Error)
	}
}

func TestChannelOpenRejectsBadID(t *testing.T) {
	ts := newTestServer(t)
	resp := call(t, ts, "channel_open", channelOpenParams{
		ID:             "not-hex",
		Participants:   testAddresses(t, 1),
		TimeoutSeconds: 3600,
	})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid-params error, got %+v", resp.Error)
	}
}

func TestChannelValidate(t *testing.T) {
	ts := newTestServer(t)
	id := testChannelID(0x02)
	resp := call(t, ts, "channel_open", channelOpenParams{
		ID:             id,
		Participants:   testAddresses(t, 2),
		TimeoutSeconds: 3600,
	})
	if resp.Error != nil {
		t.Fatalf("open failed: %+v", resp.Error)
	}
	resp = call(t, ts, "channel_validate", channelIDParams{ID: id})
	if resp.Error != nil {
		t.Fatalf("validate failed: %+v", resp.Error)
	}
	var result map[string]bool
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result["valid"] {
		t.Fatal("expected valid channel")
	}
}

func TestUnknownMethod(t *testing.T) {
	ts := newTestServer(t)
	resp := call(t, ts, "channel_burn", nil)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestMalformedJSON(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Post(ts.URL, "application/json", bytes.NewReader([]byte("{")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var decoded testResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded.Error == nil || decoded.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %+v", decoded.Error)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestChannelCounters(t *testing.T) {
	ts := newTestServer(t)
	resp := call(t, ts, "channel_open", channelOpenParams{
		ID:             testChannelID(0x03),
		Participants:   testAddresses(t, 1),
		TimeoutSeconds: 60,
	})
	if resp.Error != nil {
		t.Fatalf("open failed: %+v", resp.Error)
	}
	resp = call(t, ts, "channel_counters", nil)
	if resp.Error != nil {
		t.Fatalf("counters failed: %+v", resp.Error)
	}
	var counters channel.Counters
	if err := json.Unmarshal(resp.Result, &counters); err != nil {
		t.Fatalf("decode counters: %v", err)
	}
	if counters.ChannelsOpened != 1 {
		t.Fatalf("expected 1 opened channel, got %d", counters.ChannelsOpened)
	}
}
