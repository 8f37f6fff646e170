package tuner

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/koron/go-ssdp"
)

const ssdpMaxAge = 1800 // seconds, per CACHE-CONTROL

// SSDP announces the tuner as a UPnP root device so Plex can find it without
// a manual address. Losing the announcement is never fatal; discovery by IP
// still works.
type SSDP struct {
	DeviceID string // UUID, shared with device.xml
	BaseURL  string

	mu   sync.Mutex
	ad   *ssdp.Advertiser
	done chan struct{}
}

// Start sends the initial NOTIFY and keeps the advertisement alive until
// Stop or ctx cancellation.
func (s *SSDP) Start(ctx context.Context) error {
	ad, err := ssdp.Advertise(
		"upnp:rootdevice",
		fmt.Sprintf("uuid:%s::upnp:rootdevice", s.DeviceID),
		s.BaseURL+"/device.xml",
		"xtuner",
		ssdpMaxAge,
	)
	if err != nil {
		return fmt.Errorf("ssdp advertise: %w", err)
	}

	s.mu.Lock()
	s.ad = ad
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		tick := time.NewTicker(300 * time.Second)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
				if err := ad.Alive(); err != nil {
					log.Printf("ssdp: alive failed, stopping announcements: %v", err)
					s.Stop()
					return
				}
			case <-ctx.Done():
				s.Stop()
				return
			case <-done:
				return
			}
		}
	}()
	log.Printf("ssdp: advertising uuid:%s at %s/device.xml", s.DeviceID, s.BaseURL)
	return nil
}

// Stop sends byebye and closes the advertiser. Safe to call more than once.
func (s *SSDP) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ad == nil {
		return
	}
	if err := s.ad.Bye(); err != nil {
		log.Printf("ssdp: bye: %v", err)
	}
	if err := s.ad.Close(); err != nil {
		log.Printf("ssdp: close: %v", err)
	}
	s.ad = nil
	close(s.done)
}
