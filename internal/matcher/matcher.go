package matcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtuner/xtuner/internal/metrics"
	"github.com/xtuner/xtuner/internal/model"
	"github.com/xtuner/xtuner/internal/store"
)

// ErrRematchInProgress is returned when a rematch is requested while another
// is still running. The batch is not designed to interleave with itself.
var ErrRematchInProgress = errors.New("rematch already in progress")

// Input is everything Compute needs: the two catalogs plus the manual
// overrides that must survive recomputation untouched.
type Input struct {
	Channels []model.XMLTVChannel
	Streams  []model.XtreamStream
	// Manual mappings per channel id, in stored priority order.
	Manual map[string][]model.ChannelMapping
}

// Stats summarizes one matcher run.
type Stats struct {
	Channels  int
	Streams   int
	Mapped    int // channels that ended up with >= 1 automatic candidate
	Unmatched int
	Elapsed   time.Duration
}

// candidate pairs a stream with its score during ranking.
type candidate struct {
	stream model.XtreamStream
	score  float64
}

// Compute produces the full automatic mapping set for the given catalogs.
// It is a pure function: no I/O, deterministic for identical input.
//
// Names are normalized once per distinct entity up front, so the dominant
// cost is the N×M Jaro-Winkler evaluations. Channels are scored in parallel;
// each channel's candidate list is independent of every other's.
func Compute(ctx context.Context, in Input) ([]model.ChannelMapping, Stats, error) {
	start := time.Now()
	stats := Stats{Channels: len(in.Channels), Streams: len(in.Streams)}

	normStreams := make([]string, len(in.Streams))
	for i, st := range in.Streams {
		normStreams[i] = Normalize(st.Name)
	}

	perChannel := make([][]model.ChannelMapping, len(in.Channels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range in.Channels {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ch := in.Channels[i]
			perChannel[i] = mapChannel(ch, in.Streams, normStreams, in.Manual[ch.ChannelID])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	var out []model.ChannelMapping
	for _, ms := range perChannel {
		if len(ms) > 0 {
			stats.Mapped++
		} else {
			stats.Unmatched++
		}
		out = append(out, ms...)
	}
	stats.Elapsed = time.Since(start)
	return out, stats, nil
}

// mapChannel ranks every stream against one channel and assigns primary and
// failover slots. Streams already mapped manually are skipped; automatic
// priorities continue after the manual rows, and no automatic candidate
// becomes primary when a manual primary exists.
func mapChannel(ch model.XMLTVChannel, streams []model.XtreamStream, normStreams []string, manual []model.ChannelMapping) []model.ChannelMapping {
	manualRefs := make(map[int64]bool, len(manual))
	manualPrimary := false
	for _, m := range manual {
		manualRefs[m.StreamRef] = true
		if m.IsPrimary {
			manualPrimary = true
		}
	}

	normName := Normalize(ch.DisplayName)
	var cands []candidate
	for i, st := range streams {
		if manualRefs[st.ID] {
			continue
		}
		epgMatch := ch.ChannelID != "" && st.EPGChannelID == ch.ChannelID
		score := Score(normName, normStreams[i], epgMatch)
		if score >= MatchThreshold {
			cands = append(cands, candidate{stream: st, score: score})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		// Deterministic tie-break: lower provider stream id first, then
		// lower account id when two accounts carry the same stream id.
		if cands[i].stream.StreamID != cands[j].stream.StreamID {
			return cands[i].stream.StreamID < cands[j].stream.StreamID
		}
		return cands[i].stream.AccountID < cands[j].stream.AccountID
	})

	out := make([]model.ChannelMapping, 0, len(cands))
	for rank, c := range cands {
		out = append(out, model.ChannelMapping{
			ChannelID:      ch.ChannelID,
			StreamRef:      c.stream.ID,
			Confidence:     c.score,
			IsPrimary:      rank == 0 && !manualPrimary,
			StreamPriority: len(manual) + rank,
		})
	}
	return out
}

// Runner executes matcher batches against the store, one at a time.
type Runner struct {
	Store   *store.Store
	running atomic.Bool
}

// Rematch loads both catalogs, computes the automatic mapping set, and
// replaces it in a single transaction. Manual overrides are read first and
// fed into Compute so automatic rows slot around them; the replace statement
// cannot touch manual rows at all.
func (r *Runner) Rematch(ctx context.Context) (Stats, error) {
	if !r.running.CompareAndSwap(false, true) {
		return Stats{}, ErrRematchInProgress
	}
	defer r.running.Store(false)

	channels, err := r.Store.Channels(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("load channels: %w", err)
	}
	streams, err := r.Store.ActiveStreams(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("load streams: %w", err)
	}
	manual, err := r.Store.ManualMappings(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("load manual mappings: %w", err)
	}

	mappings, stats, err := Compute(ctx, Input{Channels: channels, Streams: streams, Manual: manual})
	if err != nil {
		return stats, err
	}
	if err := r.Store.ReplaceAutoMappings(ctx, mappings); err != nil {
		return stats, fmt.Errorf("write mappings: %w", err)
	}
	metrics.MatcherRuns.Inc()
	metrics.MatcherDuration.Observe(stats.Elapsed.Seconds())
	log.Printf("matcher: channels=%d streams=%d mapped=%d unmatched=%d dur=%s",
		stats.Channels, stats.Streams, stats.Mapped, stats.Unmatched, stats.Elapsed.Round(time.Millisecond))
	return stats, nil
}
