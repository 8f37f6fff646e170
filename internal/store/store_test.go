package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/xtuner/xtuner/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func intp(n int) *int { return &n }

// seedAccount inserts an active account and returns its id.
func seedAccount(t *testing.T, s *Store, maxConns int) int64 {
	t.Helper()
	id, err := s.InsertAccount(context.Background(), model.Account{
		ServerURL:         "http://provider.example:8080",
		Username:          "user",
		EncryptedPassword: []byte("sealed"),
		MaxConnections:    maxConns,
		IsActive:          true,
	})
	if err != nil {
		t.Fatalf("insert account: %v", err)
	}
	return id
}

// seedStreams replaces the account's streams and returns them with row ids.
func seedStreams(t *testing.T, s *Store, accountID int64, streams []model.XtreamStream) map[int]int64 {
	t.Helper()
	ctx := context.Background()
	if err := s.ReplaceAccountStreams(ctx, accountID, streams); err != nil {
		t.Fatalf("replace streams: %v", err)
	}
	stored, err := s.ActiveStreams(ctx)
	if err != nil {
		t.Fatalf("active streams: %v", err)
	}
	refs := make(map[int]int64)
	for _, st := range stored {
		if st.AccountID == accountID {
			refs[st.StreamID] = st.ID
		}
	}
	return refs
}

func seedChannel(t *testing.T, s *Store, id, name string, enabled bool, order *int) {
	t.Helper()
	ctx := context.Background()
	if err := s.UpsertChannel(ctx, model.XMLTVChannel{ChannelID: id, DisplayName: name}); err != nil {
		t.Fatalf("upsert channel %s: %v", id, err)
	}
	if err := s.SetChannelSetting(ctx, model.ChannelSetting{ChannelID: id, IsEnabled: enabled, DisplayOrder: order}); err != nil {
		t.Fatalf("set setting %s: %v", id, err)
	}
}

func TestUpsertChannelDefaultsDisabled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertChannel(ctx, model.XMLTVChannel{ChannelID: "espn.us", DisplayName: "ESPN"}); err != nil {
		t.Fatal(err)
	}
	enabled, err := s.ChannelEnabled(ctx, "espn.us")
	if err != nil {
		t.Fatal(err)
	}
	if enabled {
		t.Error("freshly ingested channel is enabled, want disabled by default")
	}
	// Re-ingestion must not resurrect a channel the operator disabled.
	if err := s.SetChannelSetting(ctx, model.ChannelSetting{ChannelID: "espn.us", IsEnabled: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertChannel(ctx, model.XMLTVChannel{ChannelID: "espn.us", DisplayName: "ESPN 2"}); err != nil {
		t.Fatal(err)
	}
	enabled, err = s.ChannelEnabled(ctx, "espn.us")
	if err != nil {
		t.Fatal(err)
	}
	if !enabled {
		t.Error("re-ingestion reset the enabled flag")
	}
}

func TestEffectiveLineupFilterOrderSynthesis(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acct := seedAccount(t, s, 2)
	refs := seedStreams(t, s, acct, []model.XtreamStream{
		{StreamID: 1, Name: "ESPN"},
		{StreamID: 2, Name: "CNN"},
		{StreamID: 3, Name: "BBC One"},
		{StreamID: 4, Name: "Discovery"},
	})

	seedChannel(t, s, "espn.us", "ESPN", true, intp(5))
	seedChannel(t, s, "cnn.us", "CNN", true, nil)      // unordered: sorts last, synthesized number
	seedChannel(t, s, "bbc.uk", "BBC One", true, intp(1))
	seedChannel(t, s, "disc.us", "Discovery", false, intp(2)) // disabled: excluded
	seedChannel(t, s, "dead.us", "No Stream", true, intp(3))  // enabled but unmapped: excluded

	mappings := []model.ChannelMapping{
		{ChannelID: "espn.us", StreamRef: refs[1], Confidence: 1.0, IsPrimary: true},
		{ChannelID: "cnn.us", StreamRef: refs[2], Confidence: 0.9, IsPrimary: true},
		{ChannelID: "bbc.uk", StreamRef: refs[3], Confidence: 0.95, IsPrimary: true},
		{ChannelID: "disc.us", StreamRef: refs[4], Confidence: 0.9, IsPrimary: true},
	}
	if err := s.ReplaceAutoMappings(ctx, mappings); err != nil {
		t.Fatal(err)
	}

	lineup, err := s.EffectiveLineup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	wantIDs := []string{"bbc.uk", "espn.us", "cnn.us"}
	if len(lineup) != len(wantIDs) {
		t.Fatalf("lineup = %d channels, want %d: %+v", len(lineup), len(wantIDs), lineup)
	}
	for i, want := range wantIDs {
		if lineup[i].ChannelID != want {
			t.Errorf("lineup[%d] = %s, want %s", i, lineup[i].ChannelID, want)
		}
	}
	// Explicit orders pass through; the unordered channel gets max+1.
	if lineup[0].GuideNumber != "1" || lineup[1].GuideNumber != "5" || lineup[2].GuideNumber != "6" {
		t.Errorf("guide numbers = %s/%s/%s, want 1/5/6",
			lineup[0].GuideNumber, lineup[1].GuideNumber, lineup[2].GuideNumber)
	}
}

func TestEffectiveLineupEmptyNotNil(t *testing.T) {
	s := newTestStore(t)
	lineup, err := s.EffectiveLineup(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if lineup == nil {
		t.Fatal("empty lineup is nil, want empty slice")
	}
	if len(lineup) != 0 {
		t.Fatalf("lineup = %+v, want empty", lineup)
	}
}

func TestReplaceAutoMappingsPreservesManual(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acct := seedAccount(t, s, 1)
	refs := seedStreams(t, s, acct, []model.XtreamStream{
		{StreamID: 1, Name: "ESPN"},
		{StreamID: 2, Name: "ESPN HD"},
	})
	seedChannel(t, s, "espn.us", "ESPN", true, nil)

	if err := s.SetManualMapping(ctx, model.ChannelMapping{
		ChannelID: "espn.us", StreamRef: refs[2], Confidence: 1.0,
		IsManual: true, IsPrimary: true, StreamPriority: 0,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceAutoMappings(ctx, []model.ChannelMapping{
		{ChannelID: "espn.us", StreamRef: refs[1], Confidence: 0.9, StreamPriority: 1},
	}); err != nil {
		t.Fatal(err)
	}
	// A second recompute with an empty automatic set clears autos only.
	if err := s.ReplaceAutoMappings(ctx, nil); err != nil {
		t.Fatal(err)
	}

	got, err := s.MappingsForChannel(ctx, "espn.us")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("mappings = %+v, want only the manual row", got)
	}
	if !got[0].IsManual || !got[0].IsPrimary || got[0].StreamRef != refs[2] {
		t.Errorf("manual row mangled: %+v", got[0])
	}
}

func TestSetManualMappingDemotesExistingPrimary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acct := seedAccount(t, s, 1)
	refs := seedStreams(t, s, acct, []model.XtreamStream{
		{StreamID: 1, Name: "ESPN"},
		{StreamID: 2, Name: "ESPN HD"},
	})
	seedChannel(t, s, "espn.us", "ESPN", true, nil)

	if err := s.ReplaceAutoMappings(ctx, []model.ChannelMapping{
		{ChannelID: "espn.us", StreamRef: refs[1], Confidence: 0.9, IsPrimary: true, StreamPriority: 0},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetManualMapping(ctx, model.ChannelMapping{
		ChannelID: "espn.us", StreamRef: refs[2], Confidence: 1.0,
		IsManual: true, IsPrimary: true, StreamPriority: 0,
	}); err != nil {
		t.Fatal(err)
	}

	got, err := s.MappingsForChannel(ctx, "espn.us")
	if err != nil {
		t.Fatal(err)
	}
	primaries := 0
	for _, m := range got {
		if m.IsPrimary {
			primaries++
			if m.StreamRef != refs[2] {
				t.Errorf("primary = %+v, want the manual row", m)
			}
		}
	}
	if primaries != 1 {
		t.Errorf("primaries = %d, want exactly 1", primaries)
	}
}

func TestFailoverChainErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acct := seedAccount(t, s, 1)
	refs := seedStreams(t, s, acct, []model.XtreamStream{{StreamID: 1, Name: "ESPN"}})

	if _, err := s.FailoverChain(ctx, "nosuch.us"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown channel: err = %v, want ErrNotFound", err)
	}

	seedChannel(t, s, "espn.us", "ESPN", false, nil)
	if err := s.ReplaceAutoMappings(ctx, []model.ChannelMapping{
		{ChannelID: "espn.us", StreamRef: refs[1], Confidence: 1.0, IsPrimary: true},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FailoverChain(ctx, "espn.us"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("disabled channel: err = %v, want ErrNotFound", err)
	}

	// Enabled but no primary mapping.
	seedChannel(t, s, "cnn.us", "CNN", true, nil)
	if _, err := s.FailoverChain(ctx, "cnn.us"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unmapped channel: err = %v, want ErrNotFound", err)
	}
}

func TestFailoverChainOrderAndJoin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acct := seedAccount(t, s, 3)
	refs := seedStreams(t, s, acct, []model.XtreamStream{
		{StreamID: 1, Name: "ESPN", Qualities: []model.Quality{model.QualityHD}},
		{StreamID: 2, Name: "ESPN FHD", Qualities: []model.Quality{model.QualityFHD}},
	})
	seedChannel(t, s, "espn.us", "ESPN", true, nil)
	if err := s.ReplaceAutoMappings(ctx, []model.ChannelMapping{
		{ChannelID: "espn.us", StreamRef: refs[2], Confidence: 0.9, StreamPriority: 1},
		{ChannelID: "espn.us", StreamRef: refs[1], Confidence: 1.0, IsPrimary: true, StreamPriority: 0},
	}); err != nil {
		t.Fatal(err)
	}

	chain, err := s.FailoverChain(ctx, "espn.us")
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 2 {
		t.Fatalf("chain length = %d, want 2", len(chain))
	}
	if !chain[0].Mapping.IsPrimary || chain[0].Stream.StreamID != 1 {
		t.Errorf("chain[0] = %+v, want primary stream 1", chain[0].Mapping)
	}
	if chain[1].Stream.StreamID != 2 {
		t.Errorf("chain[1] stream = %d, want 2", chain[1].Stream.StreamID)
	}
	if chain[0].Account.ID != acct || !chain[0].Account.IsActive {
		t.Errorf("account join wrong: %+v", chain[0].Account)
	}
	if got := model.BestQuality(chain[1].Stream.Qualities); got != model.QualityFHD {
		t.Errorf("qualities did not round-trip: %v", chain[1].Stream.Qualities)
	}
}

func TestReplaceAccountStreamsKeepsSurvivorRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	acct := seedAccount(t, s, 1)
	refs := seedStreams(t, s, acct, []model.XtreamStream{
		{StreamID: 1, Name: "ESPN"},
		{StreamID: 2, Name: "CNN"},
	})
	seedChannel(t, s, "espn.us", "ESPN", true, nil)
	if err := s.SetManualMapping(ctx, model.ChannelMapping{
		ChannelID: "espn.us", StreamRef: refs[1], Confidence: 1.0,
		IsManual: true, IsPrimary: true,
	}); err != nil {
		t.Fatal(err)
	}

	// Re-sync: stream 1 survives (renamed), stream 2 vanishes, stream 3 new.
	refs2 := seedStreams(t, s, acct, []model.XtreamStream{
		{StreamID: 1, Name: "ESPN US"},
		{StreamID: 3, Name: "BBC One"},
	})
	if refs2[1] != refs[1] {
		t.Errorf("surviving stream changed row id %d -> %d", refs[1], refs2[1])
	}
	if _, ok := refs2[2]; ok {
		t.Error("vanished stream still present")
	}

	got, err := s.MappingsForChannel(ctx, "espn.us")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[0].IsManual {
		t.Fatalf("manual mapping lost across sync: %+v", got)
	}
}

func TestTunerCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if n, err := s.TunerCount(ctx, 2); err != nil || n != 2 {
		t.Errorf("no accounts: count = %d err = %v, want default 2", n, err)
	}
	acct := seedAccount(t, s, 4)
	if n, err := s.TunerCount(ctx, 2); err != nil || n != 4 {
		t.Errorf("active account: count = %d err = %v, want 4", n, err)
	}
	if err := s.SetAccountActive(ctx, acct, false); err != nil {
		t.Fatal(err)
	}
	if n, err := s.TunerCount(ctx, 2); err != nil || n != 2 {
		t.Errorf("inactive account: count = %d err = %v, want default 2", n, err)
	}
}

func TestKVRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if v, err := s.GetKV(ctx, "device_id"); err != nil || v != "" {
		t.Fatalf("missing key: v=%q err=%v", v, err)
	}
	if err := s.PutKV(ctx, "device_id", "abc"); err != nil {
		t.Fatal(err)
	}
	if err := s.PutKV(ctx, "device_id", "def"); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.GetKV(ctx, "device_id"); v != "def" {
		t.Errorf("v = %q, want def", v)
	}
}
