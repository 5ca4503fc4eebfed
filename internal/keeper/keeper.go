// Package keeper triggers the vault's purchase cycle on a fixed interval:
// an in-process loop with owner rights, no external keeper network needed.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/mortycrypto/dca-manager/internal/vault"
)

type Keeper struct {
	vault    *vault.Vault
	caller   common.Address
	interval time.Duration
	log      *zap.SugaredLogger

	// maxRetry bounds how long one failed cycle is retried before the keeper
	// gives up until the next tick.
	maxRetry time.Duration
}

func New(v *vault.Vault, caller common.Address, interval time.Duration, log *zap.SugaredLogger) (*Keeper, error) {
	if v == nil {
		return nil, fmt.Errorf("keeper: nil vault")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("keeper: interval must be positive")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Keeper{
		vault:    v,
		caller:   caller,
		interval: interval,
		log:      log,
		maxRetry: interval / 2,
	}, nil
}

// Run blocks until ctx is done, firing one purchase cycle per interval. The
// first cycle runs immediately. Cycle failures are retried with exponential
// backoff (capped at half the interval) and then dropped: the next tick
// starts fresh. Cycles that failed after pulling funds are never retried.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	k.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			k.cycle(ctx)
		}
	}
}

func (k *Keeper) cycle(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = k.maxRetry

	op := func() error {
		err := k.vault.Work(ctx, k.caller)
		// A partial cycle already pulled and spent settlement funds; retrying
		// it would pull the full amount again. Only cycles that moved nothing
		// are safe to rerun.
		if errors.Is(err, vault.ErrPartialPurchase) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		k.log.Warnw("work cycle failed, retrying", "error", err, "next_in", next)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		if errors.Is(err, vault.ErrPartialPurchase) {
			k.log.Warnw("partial purchase cycle, waiting for next tick", "error", err)
			return
		}
		k.log.Errorw("work cycle abandoned until next tick", "error", err)
		return
	}
	k.log.Debugw("work cycle done")
}
