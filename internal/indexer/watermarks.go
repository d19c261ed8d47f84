package indexer

import (
	"context"
	"time"

	"github.com/sandwichfarm/pulsr/internal/storage"
)

// WatermarkManager resolves the effective since boundary per relay and
// advances watermarks after successful sessions. The overlap is
// re-subtracted on every read so scheduler jitter cannot gap the data;
// idempotent upserts absorb the duplicate scans it causes.
type WatermarkManager struct {
	store    *storage.Storage
	overlap  time.Duration
	lookback time.Duration
	now      func() time.Time
}

// NewWatermarkManager creates a watermark manager
func NewWatermarkManager(store *storage.Storage, overlap, lookback time.Duration) *WatermarkManager {
	return &WatermarkManager{
		store:    store,
		overlap:  overlap,
		lookback: lookback,
		now:      time.Now,
	}
}

// SinceForRelay computes the since boundary for one relay: the caller
// override wins, then the relay watermark minus overlap, then the global
// watermark minus overlap, then the default lookback. Never negative.
func (wm *WatermarkManager) SinceForRelay(ctx context.Context, relay string, override int64) (int64, error) {
	if override > 0 {
		return override, nil
	}

	relayMark, err := wm.store.GetWatermark(ctx, storage.RelayWatermarkKey(relay))
	if err != nil {
		return 0, err
	}
	if relayMark > 0 {
		return clampZero(relayMark - int64(wm.overlap.Seconds())), nil
	}

	globalMark, err := wm.store.GetWatermark(ctx, storage.KeyLastIndexed)
	if err != nil {
		return 0, err
	}
	if globalMark > 0 {
		return clampZero(globalMark - int64(wm.overlap.Seconds())), nil
	}

	return clampZero(wm.now().Add(-wm.lookback).Unix()), nil
}

// AdvanceRelay moves a relay's watermark to now. Conservative: it does
// not reflect the newest event timestamp, trading a slight re-scan for
// simplicity.
func (wm *WatermarkManager) AdvanceRelay(ctx context.Context, relay string) error {
	return wm.store.SetWatermark(ctx, storage.RelayWatermarkKey(relay), wm.now().Unix())
}

// AdvanceGlobal records the end of a run
func (wm *WatermarkManager) AdvanceGlobal(ctx context.Context) error {
	return wm.store.SetWatermark(ctx, storage.KeyLastIndexed, wm.now().Unix())
}

func clampZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
