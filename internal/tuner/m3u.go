package tuner

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/xtuner/xtuner/internal/store"
)

// M3UServe serves the playlist rendering of the effective lineup. It runs
// the exact same lineup query as /lineup.json, so the two can never disagree
// on membership or order.
type M3UServe struct {
	BaseURL string
	Lineup  LineupSource
}

func (m *M3UServe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lineup, err := m.Lineup.EffectiveLineup(r.Context())
	if err != nil {
		log.Printf("m3u: lineup: %v", err)
		http.Error(w, "playlist unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "audio/x-mpegurl; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, ch := range lineup {
		b.WriteString(extinfLine(ch))
		b.WriteString(m.BaseURL + "/stream/" + ch.ChannelID + "\n")
	}
	if _, err := w.Write([]byte(b.String())); err != nil {
		log.Printf("m3u: write: %v", err)
	}
}

// extinfLine renders one channel descriptor. The logo attribute is omitted
// entirely when neither the guide nor the stream has one.
func extinfLine(ch store.LineupChannel) string {
	name := strings.ReplaceAll(ch.DisplayName, ",", " ")
	var b strings.Builder
	fmt.Fprintf(&b, `#EXTINF:-1 tvg-id=%q tvg-name=%q`, ch.ChannelID, name)
	if ch.LogoURL != "" {
		fmt.Fprintf(&b, ` tvg-logo=%q`, ch.LogoURL)
	}
	fmt.Fprintf(&b, ` tvg-chno=%q,%s`+"\n", ch.GuideNumber, name)
	return b.String()
}
