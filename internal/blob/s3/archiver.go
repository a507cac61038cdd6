package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hebd1/kalshi-ai-trading-bot/internal/domain"
)

// TradeArchiveStore is the narrow read surface the archiver needs from the
// trade store.
type TradeArchiveStore interface {
	// ListBefore returns all trade logs that exited strictly before the
	// given cutoff time.
	ListBefore(ctx context.Context, before time.Time) ([]domain.TradeLog, error)
}

// BalanceArchiveStore is the narrow read surface the archiver needs from the
// balance store.
type BalanceArchiveStore interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.BalanceSnapshot, error)
}

// BlobWriter is the upload surface the archiver writes through.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver exports ledger history to object storage as JSONL files.
//
// Deletion of archived records from the primary store is intentionally not
// performed here; that is a separate, explicit step to be executed after the
// archive has been verified.
type Archiver struct {
	writer   BlobWriter
	trades   TradeArchiveStore
	balances BalanceArchiveStore
}

// NewArchiver creates an Archiver.
func NewArchiver(writer BlobWriter, trades TradeArchiveStore, balances BalanceArchiveStore) *Archiver {
	return &Archiver{
		writer:   writer,
		trades:   trades,
		balances: balances,
	}
}

type archivedTrade struct {
	ID         string   `json:"id"`
	MarketID   string   `json:"market_id"`
	Side       string   `json:"side"`
	EntryPrice float64  `json:"entry_price"`
	ExitPrice  float64  `json:"exit_price"`
	Quantity   int64    `json:"quantity"`
	PnL        float64  `json:"pnl"`
	ExitReason string   `json:"exit_reason"`
	Slippage   *float64 `json:"slippage,omitempty"`
	Strategy   string   `json:"strategy"`
	EnteredAt  string   `json:"entered_at"`
	ExitedAt   string   `json:"exited_at"`
}

type archivedBalance struct {
	BalanceCents int64  `json:"balance_cents"`
	TakenAt      string `json:"taken_at"`
}

// ArchiveTrades queries all trade logs before the cutoff, serializes them to
// JSONL, and uploads the file at archive/trades/YYYY-MM.jsonl. The count of
// archived records is returned.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	records := make([]archivedTrade, len(trades))
	for i, t := range trades {
		records[i] = archivedTrade{
			ID:         t.ID,
			MarketID:   t.MarketID,
			Side:       string(t.Side),
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			Quantity:   t.Quantity,
			PnL:        t.PnL,
			ExitReason: t.ExitReason,
			Slippage:   t.Slippage,
			Strategy:   t.Strategy,
			EnteredAt:  t.EnteredAt.Format(time.RFC3339),
			ExitedAt:   t.ExitedAt.Format(time.RFC3339),
		}
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	return int64(len(trades)), nil
}

// ArchiveBalances exports all balance snapshots up to the cutoff at
// archive/balances/YYYY-MM.jsonl and returns the record count.
func (a *Archiver) ArchiveBalances(ctx context.Context, before time.Time) (int64, error) {
	snaps, err := a.balances.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive balances query: %w", err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}

	records := make([]archivedBalance, len(snaps))
	for i, s := range snaps {
		records[i] = archivedBalance{
			BalanceCents: s.BalanceCents,
			TakenAt:      s.TakenAt.Format(time.RFC3339),
		}
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive balances marshal: %w", err)
	}

	path := archivePath("balances", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive balances upload: %w", err)
	}

	return int64(len(snaps)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/trades/2025-01.jsonl
//	archive/balances/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
