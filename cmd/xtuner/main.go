// Command xtuner bridges an Xtream Codes IPTV provider into Plex by posing
// as an HDHomeRun tuner, with channel identity coming from an XMLTV guide.
//
//	run      One-run: ingest guide, sync provider, rematch, then serve. For systemd.
//	serve    Serve the tuner endpoints only (no sync on startup)
//	ingest   Load XMLTV channels into the store
//	sync     Pull live streams from every active account
//	rematch  Recompute automatic channel-to-stream mappings
//	probe    Auth round-trip per account, report ok / auth-failed / unreachable
//	account  add | list | enable | disable
//	channel  enable | disable | map
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/xtuner/xtuner/internal/admission"
	"github.com/xtuner/xtuner/internal/config"
	"github.com/xtuner/xtuner/internal/matcher"
	"github.com/xtuner/xtuner/internal/model"
	"github.com/xtuner/xtuner/internal/secrets"
	"github.com/xtuner/xtuner/internal/store"
	"github.com/xtuner/xtuner/internal/tuner"
	"github.com/xtuner/xtuner/internal/xmltv"
	"github.com/xtuner/xtuner/internal/xtream"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <run|serve|ingest|sync|rematch|probe|account|channel> [flags]\n", os.Args[0])
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(ctx, cfg)
	case "serve":
		err = cmdServe(ctx, cfg)
	case "ingest":
		err = cmdIngest(ctx, cfg, os.Args[2:])
	case "sync":
		err = cmdSync(ctx, cfg, os.Args[2:])
	case "rematch":
		err = cmdRematch(ctx, cfg)
	case "probe":
		err = cmdProbe(ctx, cfg)
	case "account":
		err = cmdAccount(ctx, cfg, os.Args[2:])
	case "channel":
		err = cmdChannel(ctx, cfg, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.DBPath, err)
	}
	return st, nil
}

func openBox(cfg *config.Config) (*secrets.Box, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("XTUNER_SECRET_KEY is not set; generate one with: openssl rand -hex 32")
	}
	return secrets.NewBox(cfg.SecretKey)
}

// deviceID returns the stable HDHomeRun device identity, minting and
// persisting a UUID on first run.
func deviceID(ctx context.Context, st *store.Store) (string, error) {
	id, err := st.GetKV(ctx, "device_id")
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := st.PutKV(ctx, "device_id", id); err != nil {
		return "", err
	}
	return id, nil
}

func doSync(ctx context.Context, cfg *config.Config, st *store.Store, box *secrets.Box) error {
	if err := xtream.Sync(ctx, st, box); err != nil {
		return err
	}
	if err := st.PutKV(ctx, "last_sync", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	if cfg.RematchAfterSync {
		runner := &matcher.Runner{Store: st}
		if _, err := runner.Rematch(ctx); err != nil {
			return err
		}
	}
	return nil
}

func cmdRun(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	box, err := openBox(cfg)
	if err != nil {
		return err
	}

	if cfg.XMLTVURL != "" {
		ingestCtx, cancel := context.WithTimeout(ctx, cfg.XMLTVTimeout)
		_, err := xmltv.Ingest(ingestCtx, st, cfg.XMLTVURL)
		cancel()
		if err != nil {
			// A stale guide beats a dead service.
			log.Printf("run: xmltv ingest failed, continuing with stored channels: %v", err)
		}
	}
	if err := doSync(ctx, cfg, st, box); err != nil {
		log.Printf("run: initial sync failed, continuing with stored streams: %v", err)
	}

	if cfg.SyncInterval > 0 {
		go func() {
			tick := time.NewTicker(cfg.SyncInterval)
			defer tick.Stop()
			for {
				select {
				case <-tick.C:
					if err := doSync(ctx, cfg, st, box); err != nil {
						log.Printf("run: periodic sync: %v", err)
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	return serve(ctx, cfg, st, box)
}

func cmdServe(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	box, err := openBox(cfg)
	if err != nil {
		return err
	}
	return serve(ctx, cfg, st, box)
}

func serve(ctx context.Context, cfg *config.Config, st *store.Store, box *secrets.Box) error {
	id, err := deviceID(ctx, st)
	if err != nil {
		return err
	}
	hdhr := &tuner.HDHR{
		BaseURL:      cfg.BaseURL,
		FriendlyName: cfg.FriendlyName,
		DeviceID:     id,
		DeviceAuth:   cfg.DeviceAuth,
		Lineup:       st,
	}
	srv := &tuner.Server{
		Addr:     cfg.ListenAddr,
		MaxConns: cfg.MaxConns,
		Store:    st,
		HDHR:     hdhr,
		M3U:      &tuner.M3UServe{BaseURL: cfg.BaseURL, Lineup: st},
		Gateway: &tuner.Gateway{
			Store:     st,
			Box:       box,
			Admission: admission.NewRegistry(),
		},
	}
	if cfg.SSDPEnabled {
		srv.SSDP = &tuner.SSDP{DeviceID: id, BaseURL: cfg.BaseURL}
	}
	return srv.Run(ctx)
}

func cmdIngest(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	source := fs.String("source", cfg.XMLTVURL, "XMLTV file path or http(s) URL")
	fs.Parse(args)
	if *source == "" {
		return fmt.Errorf("ingest: need -source or XTUNER_XMLTV_URL")
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	ingestCtx, cancel := context.WithTimeout(ctx, cfg.XMLTVTimeout)
	defer cancel()
	n, err := xmltv.Ingest(ingestCtx, st, *source)
	if err != nil {
		return err
	}
	fmt.Printf("ingested %d channels\n", n)
	return nil
}

func cmdSync(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	rematch := fs.Bool("rematch", cfg.RematchAfterSync, "recompute mappings after sync")
	fs.Parse(args)
	cfg.RematchAfterSync = *rematch

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	box, err := openBox(cfg)
	if err != nil {
		return err
	}
	return doSync(ctx, cfg, st, box)
}

func cmdRematch(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	runner := &matcher.Runner{Store: st}
	stats, err := runner.Rematch(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("channels=%d streams=%d mapped=%d unmatched=%d elapsed=%s\n",
		stats.Channels, stats.Streams, stats.Mapped, stats.Unmatched, stats.Elapsed.Round(time.Millisecond))
	return nil
}

func cmdProbe(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	box, err := openBox(cfg)
	if err != nil {
		return err
	}
	results, err := xtream.ProbeAccounts(ctx, st, box, 15*time.Second)
	if err != nil {
		return err
	}
	for _, r := range results {
		line := fmt.Sprintf("account=%d server=%s status=%s", r.AccountID, r.ServerURL, r.Status)
		if r.Err != nil {
			line += fmt.Sprintf(" err=%v", r.Err)
		}
		fmt.Println(line)
	}
	return nil
}

func cmdAccount(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: account <add|list|enable|disable> [flags]")
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	switch args[0] {
	case "add":
		fs := flag.NewFlagSet("account add", flag.ExitOnError)
		server := fs.String("server", "", "provider base URL, e.g. http://provider:8080")
		user := fs.String("user", "", "provider username")
		pass := fs.String("pass", "", "provider password")
		maxConns := fs.Int("max-connections", 1, "provider concurrent-stream limit")
		fs.Parse(args[1:])
		if *server == "" || *user == "" || *pass == "" {
			return fmt.Errorf("account add: -server, -user, and -pass are required")
		}
		box, err := openBox(cfg)
		if err != nil {
			return err
		}
		sealed, err := box.Seal(*pass)
		if err != nil {
			return err
		}
		id, err := st.InsertAccount(ctx, model.Account{
			ServerURL:         *server,
			Username:          *user,
			EncryptedPassword: sealed,
			MaxConnections:    *maxConns,
			IsActive:          true,
		})
		if err != nil {
			return err
		}
		fmt.Printf("account %d added\n", id)
		return nil
	case "list":
		accounts, err := st.ActiveAccounts(ctx)
		if err != nil {
			return err
		}
		for _, a := range accounts {
			fmt.Printf("account=%d server=%s user=%s max=%d\n", a.ID, a.ServerURL, a.Username, a.MaxConnections)
		}
		return nil
	case "enable", "disable":
		fs := flag.NewFlagSet("account "+args[0], flag.ExitOnError)
		id := fs.Int64("id", 0, "account id")
		fs.Parse(args[1:])
		if *id == 0 {
			return fmt.Errorf("account %s: -id is required", args[0])
		}
		return st.SetAccountActive(ctx, *id, args[0] == "enable")
	default:
		return fmt.Errorf("unknown account subcommand %q", args[0])
	}
}

func cmdChannel(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: channel <enable|disable|map> [flags]")
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	switch args[0] {
	case "enable", "disable":
		fs := flag.NewFlagSet("channel "+args[0], flag.ExitOnError)
		id := fs.String("id", "", "XMLTV channel id")
		order := fs.String("order", "", "display order (enable only; empty = unordered)")
		fs.Parse(args[1:])
		if *id == "" {
			return fmt.Errorf("channel %s: -id is required", args[0])
		}
		cs := model.ChannelSetting{ChannelID: *id, IsEnabled: args[0] == "enable"}
		if *order != "" {
			n, err := strconv.Atoi(*order)
			if err != nil {
				return fmt.Errorf("channel %s: bad -order %q", args[0], *order)
			}
			cs.DisplayOrder = &n
		}
		return st.SetChannelSetting(ctx, cs)
	case "map":
		fs := flag.NewFlagSet("channel map", flag.ExitOnError)
		id := fs.String("id", "", "XMLTV channel id")
		streamRef := fs.Int64("stream", 0, "stream row id to pin as the manual primary")
		fs.Parse(args[1:])
		if *id == "" || *streamRef == 0 {
			return fmt.Errorf("channel map: -id and -stream are required")
		}
		return st.SetManualMapping(ctx, model.ChannelMapping{
			ChannelID:  *id,
			StreamRef:  *streamRef,
			Confidence: 1.0,
			IsManual:   true,
			IsPrimary:  true,
		})
	default:
		return fmt.Errorf("unknown channel subcommand %q", args[0])
	}
}
