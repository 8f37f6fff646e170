package xtream

import (
	"context"
	"errors"
	"time"

	"github.com/xtuner/xtuner/internal/model"
	"github.com/xtuner/xtuner/internal/secrets"
	"github.com/xtuner/xtuner/internal/store"
)

// ProbeStatus classifies one account health check.
type ProbeStatus string

const (
	ProbeOK          ProbeStatus = "ok"
	ProbeAuthFailed  ProbeStatus = "auth-failed"
	ProbeUnreachable ProbeStatus = "unreachable"
)

// ProbeResult is the outcome of probing one account.
type ProbeResult struct {
	AccountID int64
	ServerURL string
	Status    ProbeStatus
	Elapsed   time.Duration
	Err       error
}

// ProbeAccounts authenticates against every active account in turn. Used by
// the probe subcommand to tell a dead subscription from a dead host before
// blaming the matcher or the gateway.
func ProbeAccounts(ctx context.Context, st *store.Store, box *secrets.Box, timeout time.Duration) ([]ProbeResult, error) {
	accounts, err := st.ActiveAccounts(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]ProbeResult, 0, len(accounts))
	for _, acct := range accounts {
		results = append(results, probeOne(ctx, box, acct, timeout))
	}
	return results, nil
}

func probeOne(ctx context.Context, box *secrets.Box, acct model.Account, timeout time.Duration) ProbeResult {
	res := ProbeResult{AccountID: acct.ID, ServerURL: acct.ServerURL}
	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	password, err := box.Open(acct.EncryptedPassword)
	if err != nil {
		res.Status = ProbeAuthFailed
		res.Err = err
		return res
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err = NewClient(acct.ServerURL, acct.Username, password).Authenticate(pctx)
	switch {
	case err == nil:
		res.Status = ProbeOK
	case errors.Is(err, model.ErrUpstreamAuth):
		res.Status = ProbeAuthFailed
		res.Err = err
	default:
		res.Status = ProbeUnreachable
		res.Err = err
	}
	return res
}
