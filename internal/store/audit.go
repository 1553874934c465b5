package store

import (
	"context"
	"fmt"

	"github.com/roach88/namegraph/internal/canonical"
	"github.com/roach88/namegraph/internal/entity"
)

// EnsureAccount inserts the account id if it is not known yet.
func EnsureAccount(ctx context.Context, s Store, id string) error {
	return s.UpsertIgnore(ctx, entity.Account{ID: id})
}

// Record appends the audit-log entry of the event in meta. Replays hit the
// existing id and change nothing.
func Record(ctx context.Context, s Store, meta entity.Meta, name, subject string, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	b, err := canonical.Marshal(args)
	if err != nil {
		return fmt.Errorf("record %s %s: %w", name, meta.EventID, err)
	}
	return s.UpsertIgnore(ctx, entity.Event{
		ID:            meta.EventID,
		Name:          name,
		Subject:       subject,
		ChainID:       meta.ChainID,
		BlockNumber:   meta.BlockNumber,
		TransactionID: meta.TxHash,
		Args:          string(b),
	})
}
