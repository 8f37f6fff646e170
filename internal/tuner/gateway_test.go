package tuner

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xtuner/xtuner/internal/admission"
	"github.com/xtuner/xtuner/internal/model"
	"github.com/xtuner/xtuner/internal/secrets"
	"github.com/xtuner/xtuner/internal/store"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// gatewayFixture is a gateway wired to a real store with one enabled channel
// mapped to streams 1..n on a single account pointing at serverURL.
type gatewayFixture struct {
	gw    *Gateway
	store *store.Store
	acct  int64
}

func newGatewayFixture(t *testing.T, serverURL string, streamIDs []int, maxConns int) *gatewayFixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "gw.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	box, err := secrets.NewBox(testKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := box.Seal("pw")
	if err != nil {
		t.Fatal(err)
	}
	acct, err := st.InsertAccount(ctx, model.Account{
		ServerURL:         serverURL,
		Username:          "user",
		EncryptedPassword: sealed,
		MaxConnections:    maxConns,
		IsActive:          true,
	})
	if err != nil {
		t.Fatal(err)
	}

	var streams []model.XtreamStream
	for _, id := range streamIDs {
		streams = append(streams, model.XtreamStream{StreamID: id, Name: "Chan"})
	}
	if err := st.ReplaceAccountStreams(ctx, acct, streams); err != nil {
		t.Fatal(err)
	}
	stored, err := st.ActiveStreams(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := st.UpsertChannel(ctx, model.XMLTVChannel{ChannelID: "espn.us", DisplayName: "ESPN"}); err != nil {
		t.Fatal(err)
	}
	if err := st.SetChannelSetting(ctx, model.ChannelSetting{ChannelID: "espn.us", IsEnabled: true}); err != nil {
		t.Fatal(err)
	}
	var mappings []model.ChannelMapping
	for i, s := range stored {
		mappings = append(mappings, model.ChannelMapping{
			ChannelID:      "espn.us",
			StreamRef:      s.ID,
			Confidence:     1.0,
			IsPrimary:      i == 0,
			StreamPriority: i,
		})
	}
	if err := st.ReplaceAutoMappings(ctx, mappings); err != nil {
		t.Fatal(err)
	}

	return &gatewayFixture{
		gw: &Gateway{
			Store:     st,
			Box:       box,
			Admission: admission.NewRegistry(),
			Client:    &http.Client{},
		},
		store: st,
		acct:  acct,
	}
}

func (f *gatewayFixture) get(t *testing.T, channelID string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.gw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/"+channelID, nil))
	return rec
}

func TestGatewayUnknownChannel404(t *testing.T) {
	f := newGatewayFixture(t, "http://unused.example", []int{1}, 1)
	if rec := f.get(t, "nosuch.us"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGatewayDisabledChannel404(t *testing.T) {
	f := newGatewayFixture(t, "http://unused.example", []int{1}, 1)
	ctx := context.Background()
	if err := f.store.SetChannelSetting(ctx, model.ChannelSetting{ChannelID: "espn.us", IsEnabled: false}); err != nil {
		t.Fatal(err)
	}
	if rec := f.get(t, "espn.us"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGatewayInactiveAccount503(t *testing.T) {
	f := newGatewayFixture(t, "http://unused.example", []int{1}, 1)
	if err := f.store.SetAccountActive(context.Background(), f.acct, false); err != nil {
		t.Fatal(err)
	}
	if rec := f.get(t, "espn.us"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestGatewayRelaysCleanTS(t *testing.T) {
	payload := tsPayload(6)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/live/user/pw/1.ts" {
			t.Errorf("upstream path = %q", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "video/mp2t")
		w.Write(payload)
	}))
	defer upstream.Close()

	f := newGatewayFixture(t, upstream.URL, []int{1}, 1)
	rec := f.get(t, "espn.us")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "video/mp2t" {
		t.Errorf("Content-Type = %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Error("relayed bytes differ from upstream payload")
	}
}

func TestGatewayDescramblesXORStream(t *testing.T) {
	clean := tsPayload(6)
	scrambled := xorBytes(append([]byte(nil), clean...), 0x5A)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(scrambled)
	}))
	defer upstream.Close()

	f := newGatewayFixture(t, upstream.URL, []int{1}, 1)
	rec := f.get(t, "espn.us")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), clean) {
		t.Error("body was not descrambled")
	}
}

func TestGatewayGarbageBody502(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>Account suspended. Please contact support.</body></html>"))
	}))
	defer upstream.Close()

	f := newGatewayFixture(t, upstream.URL, []int{1}, 1)
	if rec := f.get(t, "espn.us"); rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestGatewayFailoverToSecondStream(t *testing.T) {
	payload := tsPayload(4)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/live/user/pw/1.ts":
			http.Error(w, "stream offline", http.StatusInternalServerError)
		case "/live/user/pw/2.ts":
			w.Write(payload)
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	f := newGatewayFixture(t, upstream.URL, []int{1, 2}, 2)
	rec := f.get(t, "espn.us")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want failover to succeed", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Error("body did not come from the failover stream")
	}
}

func TestGatewayUpstreamAuthRejectionAdvancesChain(t *testing.T) {
	payload := tsPayload(4)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/live/user/pw/1.ts" {
			http.Error(w, "denied", http.StatusForbidden)
			return
		}
		w.Write(payload)
	}))
	defer upstream.Close()

	f := newGatewayFixture(t, upstream.URL, []int{1, 2}, 2)
	if rec := f.get(t, "espn.us"); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 from second stream", rec.Code)
	}
}

func TestGatewayAllUpstreamsFailed503(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	f := newGatewayFixture(t, upstream.URL, []int{1, 2}, 2)
	if rec := f.get(t, "espn.us"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestGatewayAdmissionLimit(t *testing.T) {
	payload := tsPayload(4)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer upstream.Close()

	f := newGatewayFixture(t, upstream.URL, []int{1}, 1)

	// Occupy the account's only slot, as a concurrent viewer would.
	release, err := f.gw.Admission.Acquire(f.acct, 1)
	if err != nil {
		t.Fatal(err)
	}
	rec := f.get(t, "espn.us")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 while slot held", rec.Code)
	}
	if got := rec.Header().Get("X-HDHomeRun-Error"); got != "805" {
		t.Errorf("X-HDHomeRun-Error = %q, want 805", got)
	}

	// The slot frees and the next request must succeed; the gateway's own
	// release must also have run so the count returns to zero.
	release()
	if rec := f.get(t, "espn.us"); rec.Code != http.StatusOK {
		t.Fatalf("status after release = %d, want 200", rec.Code)
	}
	if n := f.gw.Admission.Active(f.acct); n != 0 {
		t.Errorf("active count after stream end = %d, want 0", n)
	}
}

func TestGatewayRejectsNonHTTPServerURL(t *testing.T) {
	f := newGatewayFixture(t, "ftp://provider.example", []int{1}, 1)
	rec := f.get(t, "espn.us")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 (candidate rejected, chain exhausted)", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "ftp://") {
		t.Error("error body leaks the upstream URL")
	}
}
