// Package xmltv loads channel entities from an XMLTV guide document into
// the store. Programme data is deliberately skipped: the guide source is
// authoritative for programmes and serves Plex directly.
package xmltv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/xtuner/xtuner/internal/httpclient"
	"github.com/xtuner/xtuner/internal/model"
	"github.com/xtuner/xtuner/internal/store"
)

type xmlChannel struct {
	ID       string   `xml:"id,attr"`
	Displays []string `xml:"display-name"`
	Icons    []struct {
		Src string `xml:"src,attr"`
	} `xml:"icon"`
}

// Parse extracts channel entities from an XMLTV stream. It walks tokens
// rather than unmarshalling the whole document so multi-day guides with
// hundreds of thousands of programme elements stay cheap.
func Parse(r io.Reader) ([]model.XMLTVChannel, error) {
	dec := xml.NewDecoder(r)
	var out []model.XMLTVChannel
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("xmltv parse: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "channel":
			var ch xmlChannel
			if err := dec.DecodeElement(&ch, &se); err != nil {
				return nil, fmt.Errorf("xmltv channel: %w", err)
			}
			if strings.TrimSpace(ch.ID) == "" {
				continue
			}
			m := model.XMLTVChannel{ChannelID: strings.TrimSpace(ch.ID)}
			if len(ch.Displays) > 0 {
				m.DisplayName = strings.TrimSpace(ch.Displays[0])
			}
			if m.DisplayName == "" {
				m.DisplayName = m.ChannelID
			}
			if len(ch.Icons) > 0 {
				m.Icon = strings.TrimSpace(ch.Icons[0].Src)
			}
			out = append(out, m)
		case "programme":
			// Channels precede programmes in every XMLTV writer we have
			// seen; once programmes start there is nothing left for us.
			if err := dec.Skip(); err != nil {
				return nil, fmt.Errorf("xmltv skip programme: %w", err)
			}
		}
	}
	return out, nil
}

// Ingest fetches source (a file path or http(s) URL), parses it, and
// upserts every channel. Returns the number of channels written.
func Ingest(ctx context.Context, st *store.Store, source string) (int, error) {
	rc, err := open(ctx, source)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	channels, err := Parse(rc)
	if err != nil {
		return 0, err
	}
	for _, ch := range channels {
		if err := st.UpsertChannel(ctx, ch); err != nil {
			return 0, err
		}
	}
	log.Printf("xmltv: ingested %d channels from %s", len(channels), source)
	return len(channels), nil
}

func open(ctx context.Context, source string) (io.ReadCloser, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, err
		}
		resp, err := httpclient.Default().Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch xmltv: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetch xmltv: status %d", resp.StatusCode)
		}
		return resp.Body, nil
	}
	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("open xmltv: %w", err)
	}
	return f, nil
}
