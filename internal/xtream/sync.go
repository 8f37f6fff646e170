package xtream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/xtuner/xtuner/internal/model"
	"github.com/xtuner/xtuner/internal/secrets"
	"github.com/xtuner/xtuner/internal/store"
)

// Sync refreshes the stream catalog of every active account from its
// player_api. Each account's streams are swapped atomically; one account
// failing does not abort the others.
func Sync(ctx context.Context, st *store.Store, box *secrets.Box) error {
	accounts, err := st.ActiveAccounts(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	var lastErr error
	for _, acct := range accounts {
		if err := syncAccount(ctx, st, box, acct); err != nil {
			log.Printf("xtream: sync account=%d server=%s failed: %v", acct.ID, acct.ServerURL, err)
			lastErr = err
			continue
		}
	}
	return lastErr
}

func syncAccount(ctx context.Context, st *store.Store, box *secrets.Box, acct model.Account) error {
	password, err := box.Open(acct.EncryptedPassword)
	if err != nil {
		return fmt.Errorf("decrypt credentials: %w", err)
	}
	client := NewClient(acct.ServerURL, acct.Username, password)

	start := time.Now()
	categories, err := client.LiveCategories(ctx)
	if err != nil {
		// Category names are decoration; keep syncing without them.
		if errors.Is(err, model.ErrUpstreamAuth) {
			return err
		}
		log.Printf("xtream: account=%d categories unavailable: %v", acct.ID, err)
		categories = nil
	}
	live, err := client.LiveStreams(ctx)
	if err != nil {
		return fmt.Errorf("live streams: %w", err)
	}

	streams := make([]model.XtreamStream, 0, len(live))
	for _, ls := range live {
		streams = append(streams, model.XtreamStream{
			AccountID:    acct.ID,
			StreamID:     ls.StreamID,
			Name:         ls.Name,
			StreamIcon:   ls.StreamIcon,
			Qualities:    model.QualitiesFromName(ls.Name),
			Category:     categories[rawID(ls.CategoryID)],
			EPGChannelID: ls.EPGChannelID,
		})
	}
	if err := st.ReplaceAccountStreams(ctx, acct.ID, streams); err != nil {
		return err
	}
	log.Printf("xtream: account=%d synced streams=%d dur=%s",
		acct.ID, len(streams), time.Since(start).Round(time.Millisecond))
	return nil
}
