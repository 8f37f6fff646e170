package tuner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/xtuner/xtuner/internal/store"
)

// Protocol identity constants. Plex keys its tuner handling off these, so
// they mimic a real HDHomeRun; casing of every JSON field is part of the
// protocol, not a style choice.
const (
	modelNumber     = "HDHR5-4K"
	firmwareName    = "hdhomerun5_atsc"
	firmwareVersion = "20240101"

	// DefaultTunerCount is reported when no account is active.
	DefaultTunerCount = 2
)

// DiscoverJSON is the /discover.json payload.
type DiscoverJSON struct {
	FriendlyName    string `json:"FriendlyName"`
	ModelNumber     string `json:"ModelNumber"`
	FirmwareName    string `json:"FirmwareName"`
	FirmwareVersion string `json:"FirmwareVersion"`
	DeviceID        string `json:"DeviceID"`
	DeviceAuth      string `json:"DeviceAuth"`
	BaseURL         string `json:"BaseURL"`
	LineupURL       string `json:"LineupURL"`
	TunerCount      int    `json:"TunerCount"`
}

// LineupEntry is one element of the /lineup.json array.
type LineupEntry struct {
	GuideNumber string `json:"GuideNumber"`
	GuideName   string `json:"GuideName"`
	URL         string `json:"URL"`
}

// LineupStatus is the constant /lineup_status.json payload: this tuner never
// scans — the lineup alone defines the channel set.
type LineupStatus struct {
	ScanInProgress int      `json:"ScanInProgress"`
	ScanPossible   int      `json:"ScanPossible"`
	Source         string   `json:"Source"`
	SourceList     []string `json:"SourceList"`
}

// HDHR serves the HDHomeRun-compatible discover, lineup, and lineup_status
// endpoints from the effective lineup.
type HDHR struct {
	BaseURL      string // e.g. http://192.168.1.10:5004
	FriendlyName string
	DeviceID     string // stable for the lifetime of the install
	DeviceAuth   string
	Lineup       LineupSource
}

// LineupSource is the read side the lineup handlers need. *store.Store
// satisfies it; tests substitute fixtures.
type LineupSource interface {
	EffectiveLineup(ctx context.Context) ([]store.LineupChannel, error)
	TunerCount(ctx context.Context, def int) (int, error)
}

func (h *HDHR) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/discover.json":
		h.serveDiscover(w, r)
	case "/lineup_status.json":
		h.serveLineupStatus(w)
	case "/lineup.json":
		h.serveLineup(w, r)
	case "/device.xml":
		h.serveDeviceXML(w)
	default:
		http.NotFound(w, r)
	}
}

func (h *HDHR) serveDiscover(w http.ResponseWriter, r *http.Request) {
	tunerCount, err := h.Lineup.TunerCount(r.Context(), DefaultTunerCount)
	if err != nil {
		log.Printf("hdhr: discover tuner count: %v", err)
		http.Error(w, "lineup unavailable", http.StatusInternalServerError)
		return
	}
	base := h.BaseURL
	friendly := h.FriendlyName
	if friendly == "" {
		friendly = "xtuner"
	}
	out := DiscoverJSON{
		FriendlyName:    friendly,
		ModelNumber:     modelNumber,
		FirmwareName:    firmwareName,
		FirmwareVersion: firmwareVersion,
		DeviceID:        h.DeviceID,
		DeviceAuth:      h.DeviceAuth,
		BaseURL:         base,
		LineupURL:       base + "/lineup.json",
		TunerCount:      tunerCount,
	}
	writeJSON(w, out)
}

func (h *HDHR) serveLineupStatus(w http.ResponseWriter) {
	writeJSON(w, LineupStatus{
		ScanInProgress: 0,
		ScanPossible:   0,
		Source:         "Cable",
		SourceList:     []string{"Cable"},
	})
}

func (h *HDHR) serveLineup(w http.ResponseWriter, r *http.Request) {
	lineup, err := h.Lineup.EffectiveLineup(r.Context())
	if err != nil {
		log.Printf("hdhr: lineup: %v", err)
		http.Error(w, "lineup unavailable", http.StatusInternalServerError)
		return
	}
	// Always an array, never null — Plex chokes on null.
	out := make([]LineupEntry, 0, len(lineup))
	for _, ch := range lineup {
		out = append(out, LineupEntry{
			GuideNumber: ch.GuideNumber,
			GuideName:   ch.DisplayName,
			URL:         h.BaseURL + "/stream/" + ch.ChannelID,
		})
	}
	writeJSON(w, out)
}

// serveDeviceXML is the UPnP device description the SSDP announcement points
// at. Some Plex versions fetch it before trusting discover.json.
func (h *HDHR) serveDeviceXML(w http.ResponseWriter) {
	friendly := h.FriendlyName
	if friendly == "" {
		friendly = "xtuner"
	}
	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprintf(w, `<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <URLBase>%s</URLBase>
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType>
    <friendlyName>%s</friendlyName>
    <manufacturer>Silicondust</manufacturer>
    <modelName>%s</modelName>
    <modelNumber>%s</modelNumber>
    <serialNumber></serialNumber>
    <UDN>uuid:%s</UDN>
  </device>
</root>
`, h.BaseURL, friendly, modelNumber, modelNumber, h.DeviceID)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("hdhr: encode response: %v", err)
	}
}
