package tuner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/xtuner/xtuner/internal/admission"
	"github.com/xtuner/xtuner/internal/httpclient"
	"github.com/xtuner/xtuner/internal/metrics"
	"github.com/xtuner/xtuner/internal/model"
	"github.com/xtuner/xtuner/internal/safeurl"
	"github.com/xtuner/xtuner/internal/secrets"
	"github.com/xtuner/xtuner/internal/store"
	"github.com/xtuner/xtuner/internal/xtream"
)

// sniffLen covers three TS packets, enough to confirm sync bytes and recover
// an XOR key.
const sniffLen = 3*tsPacketLen + 1

// Gateway proxies /stream/{channel_id} to the provider, walking the
// channel's failover chain and enforcing per-account connection limits.
type Gateway struct {
	Store     *store.Store
	Box       *secrets.Box
	Admission *admission.Registry
	Client    *http.Client
	reqSeq    uint64
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := fmt.Sprintf("r%06d", atomic.AddUint64(&g.reqSeq, 1))
	channelID := strings.TrimPrefix(r.URL.Path, "/stream/")
	if channelID == "" || channelID == r.URL.Path {
		http.NotFound(w, r)
		return
	}
	start := time.Now()
	log.Printf("gateway: req=%s recv channel=%q remote=%s ua=%q", reqID, channelID, r.RemoteAddr, r.UserAgent())

	chain, err := g.Store.FailoverChain(r.Context(), channelID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			http.Error(w, "channel not found", http.StatusNotFound)
			return
		}
		log.Printf("gateway: req=%s channel=%q lookup failed: %v", reqID, channelID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// The primary's owning account gates the whole request: an inactive
	// account is a provider-side outage, not something failover can fix.
	primary := chain[0]
	for _, cand := range chain {
		if cand.Mapping.IsPrimary {
			primary = cand
			break
		}
	}
	if !primary.Account.IsActive {
		log.Printf("gateway: req=%s channel=%q reject account=%d inactive", reqID, channelID, primary.Account.ID)
		http.Error(w, "account unavailable", http.StatusServiceUnavailable)
		return
	}

	release, err := g.Admission.Acquire(primary.Account.ID, primary.Account.MaxConnections)
	if err != nil {
		log.Printf("gateway: req=%s channel=%q reject connection-limit account=%d limit=%d",
			reqID, channelID, primary.Account.ID, primary.Account.MaxConnections)
		w.Header().Set("X-HDHomeRun-Error", "805") // All Tuners In Use
		http.Error(w, "all tuners in use", http.StatusServiceUnavailable)
		return
	}
	heldAccount := primary.Account.ID
	defer func() { release() }()

	passwords := map[int64]string{}
	for i, cand := range chain {
		if !cand.Account.IsActive {
			continue
		}
		// Failover may cross accounts; move the admission slot with it.
		if cand.Account.ID != heldAccount {
			next, err := g.Admission.Acquire(cand.Account.ID, cand.Account.MaxConnections)
			if err != nil {
				log.Printf("gateway: req=%s channel=%q skip account=%d connection-limit", reqID, channelID, cand.Account.ID)
				continue
			}
			release()
			release, heldAccount = next, cand.Account.ID
		}
		password, ok := passwords[cand.Account.ID]
		if !ok {
			password, err = g.Box.Open(cand.Account.EncryptedPassword)
			if err != nil {
				log.Printf("gateway: req=%s channel=%q account=%d decrypt failed: %v", reqID, channelID, cand.Account.ID, err)
				continue
			}
			passwords[cand.Account.ID] = password
		}
		quality := model.BestQuality(cand.Stream.Qualities)
		streamURL := xtream.StreamURL(cand.Account.ServerURL, cand.Account.Username, password, cand.Stream.StreamID)
		if !safeurl.IsHTTPOrHTTPS(streamURL) {
			log.Printf("gateway: req=%s channel=%q prio=%d invalid stream URL scheme (rejected)", reqID, channelID, cand.Mapping.StreamPriority)
			continue
		}

		resp, err := g.connect(r.Context(), streamURL)
		if err != nil {
			log.Printf("gateway: req=%s channel=%q upstream[%d/%d] error url=%s err=%v",
				reqID, channelID, i+1, len(chain), safeurl.RedactURL(streamURL), err)
			metrics.Failovers.Inc()
			continue
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			log.Printf("gateway: req=%s channel=%q upstream[%d/%d] auth-rejected status=%d url=%s",
				reqID, channelID, i+1, len(chain), resp.StatusCode, safeurl.RedactURL(streamURL))
			metrics.UpstreamAuthFailures.Inc()
			resp.Body.Close()
			metrics.Failovers.Inc()
			continue
		}
		if resp.StatusCode != http.StatusOK {
			log.Printf("gateway: req=%s channel=%q upstream[%d/%d] status=%d url=%s",
				reqID, channelID, i+1, len(chain), resp.StatusCode, safeurl.RedactURL(streamURL))
			resp.Body.Close()
			metrics.Failovers.Inc()
			continue
		}

		log.Printf("gateway: req=%s channel=%q start upstream[%d/%d] prio=%d quality=%s url=%s ct=%q startup=%s",
			reqID, channelID, i+1, len(chain), cand.Mapping.StreamPriority, quality,
			safeurl.RedactURL(streamURL), resp.Header.Get("Content-Type"), time.Since(start).Round(time.Millisecond))
		g.relay(w, r, resp, reqID, channelID, start)
		return
	}

	log.Printf("gateway: req=%s channel=%q all %d upstream(s) failed dur=%s",
		reqID, channelID, len(chain), time.Since(start).Round(time.Millisecond))
	http.Error(w, "all upstreams failed", http.StatusServiceUnavailable)
}

func (g *Gateway) connect(ctx context.Context, streamURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "xtuner/1.0")
	client := g.Client
	if client == nil {
		client = httpclient.ForStreaming()
	}
	return client.Do(req)
}

// relay sniffs the leading bytes, descrambles when the provider XOR-wrapped
// the transport stream, and then streams until either side goes away. The
// response status is committed only after the sniff so a garbage body can
// still become a 502.
func (g *Gateway) relay(w http.ResponseWriter, r *http.Request, resp *http.Response, reqID, channelID string, start time.Time) {
	defer resp.Body.Close()

	prefix := make([]byte, sniffLen)
	n, readErr := io.ReadAtLeast(resp.Body, prefix, len(prefix))
	if readErr != nil && readErr != io.ErrUnexpectedEOF && n == 0 {
		log.Printf("gateway: req=%s channel=%q empty upstream body: %v", reqID, channelID, readErr)
		http.Error(w, model.ErrDecodeFailure.Error(), http.StatusBadGateway)
		return
	}
	prefix = prefix[:n]

	kind, key := sniffPayload(prefix)
	body := io.Reader(resp.Body)
	switch kind {
	case kindGarbage:
		log.Printf("gateway: req=%s channel=%q unplayable upstream payload (first %d bytes textual)", reqID, channelID, n)
		http.Error(w, model.ErrDecodeFailure.Error(), http.StatusBadGateway)
		return
	case kindScrambled:
		log.Printf("gateway: req=%s channel=%q descrambling upstream (xor key=0x%02x)", reqID, channelID, key)
		prefix = xorBytes(prefix, key)
		body = &xorReader{r: resp.Body, key: key}
	}

	for k, vals := range resp.Header {
		if k == "Content-Length" || k == "Transfer-Encoding" {
			continue
		}
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(http.StatusOK)

	fw := &flushWriter{w: w}
	wn, werr := fw.Write(prefix)
	written := int64(wn)
	if werr == nil {
		var cn int64
		cn, werr = io.Copy(fw, body)
		written += cn
	}
	logRelayEnd(reqID, channelID, written, start, werr)
}

func logRelayEnd(reqID, channelID string, written int64, start time.Time, err error) {
	switch {
	case err == nil:
		log.Printf("gateway: req=%s channel=%q done bytes=%d dur=%s", reqID, channelID, written, time.Since(start).Round(time.Millisecond))
	case isClientDisconnectWriteError(err):
		log.Printf("gateway: req=%s channel=%q client disconnected bytes=%d dur=%s", reqID, channelID, written, time.Since(start).Round(time.Millisecond))
	default:
		log.Printf("gateway: req=%s channel=%q relay ended bytes=%d dur=%s err=%v", reqID, channelID, written, time.Since(start).Round(time.Millisecond), err)
	}
}

// flushWriter flushes after every write so live TS bytes reach the player
// immediately; backpressure from the client throttles the upstream read.
type flushWriter struct {
	w http.ResponseWriter
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if fl, ok := f.w.(http.Flusher); ok {
		fl.Flush()
	}
	return n, err
}

func isClientDisconnectWriteError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "use of closed network connection")
}
