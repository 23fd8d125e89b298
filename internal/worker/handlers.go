package worker

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/ledgersync/internal/domain"
	"github.com/SirClappington/ledgersync/internal/joblock"
	"github.com/SirClappington/ledgersync/internal/queue"
	"github.com/SirClappington/ledgersync/internal/sheets"
	"github.com/SirClappington/ledgersync/internal/storage"
)

// handleEnsure creates or repairs the owner's sheet and tells them about it.
// The coarse per-owner lock is the same one the request path polls, so a
// second user-triggered job lands here and drops instead of duplicating work.
func (p *Pool) handleEnsure(ctx context.Context, t *queue.Task, log *zap.Logger) error {
	token, ok, err := p.locks.TryAcquire(ctx, t.OwnerID, t.Role, joblock.ScopeSheet)
	if err != nil {
		return err
	}
	if !ok {
		log.Info("sheet job already in flight, dropping duplicate")
		return nil
	}
	defer func() {
		if err := p.locks.Release(ctx, t.OwnerID, t.Role, joblock.ScopeSheet, token); err != nil {
			log.Warn("sheet job lock release failed", zap.Error(err))
		}
	}()

	owner, err := p.store.GetOwner(ctx, t.OwnerID, t.Role)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn("owner not registered, dropping task")
			return nil
		}
		return err
	}

	h, err := p.ensure.Ensure(ctx, t.OwnerID, t.Role, t.Kind, owner.FullName, owner.Email)
	if err != nil {
		return err
	}
	return p.notify.Send(ctx, t.OwnerID,
		"✅ Вашу Google-таблицю створено!", h.URL)
}

// handleAppend resolves the sheet (cheap when already ready) and appends the
// staged row. Only the creation sub-step inside Ensure holds a lock.
func (p *Pool) handleAppend(ctx context.Context, t *queue.Task, log *zap.Logger) error {
	owner, err := p.store.GetOwner(ctx, t.OwnerID, t.Role)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn("owner not registered, dropping task")
			return nil
		}
		return err
	}

	h, err := p.ensure.Ensure(ctx, t.OwnerID, t.Role, t.Kind, owner.FullName, owner.Email)
	if err != nil {
		return err
	}

	row, err := p.store.FetchRow(ctx, t.Kind, t.RowID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn("staged row vanished, dropping task", zap.Int64("row_id", t.RowID))
			return nil
		}
		return err
	}

	if err := p.adapter.AppendRow(ctx, h.ID, domain.TabName(t.Kind), row); err != nil {
		return err
	}
	return p.notify.Send(ctx, t.OwnerID,
		"✅ Запис додано до вашої Google-таблиці.", h.URL)
}

// handleScan records the newest revision of every ready binding of a kind. It
// only flags staleness; pulling edited rows back is a downstream consumer's
// job.
func (p *Pool) handleScan(ctx context.Context, t *queue.Task, log *zap.Logger) error {
	bindings, err := p.store.ListReadyByKind(ctx, t.Kind)
	if err != nil {
		return err
	}
	for _, b := range bindings {
		rev, err := p.adapter.LatestRevision(ctx, *b.ExternalID)
		if err != nil {
			if errors.Is(err, sheets.ErrNotFound) {
				// vanished sheet; the next ensure call heals the binding
				log.Info("sheet gone during scan",
					zap.Int64("binding_id", b.ID), zap.String("external_id", *b.ExternalID))
				continue
			}
			log.Warn("revision fetch failed",
				zap.Int64("binding_id", b.ID), zap.Error(err))
			continue
		}
		if err := p.tracker.RecordSeen(ctx, b.ID, *rev); err != nil {
			log.Warn("record-seen failed", zap.Int64("binding_id", b.ID), zap.Error(err))
		}
	}
	return nil
}
