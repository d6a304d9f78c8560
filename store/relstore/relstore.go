// Package relstore is the durable, source-of-truth persistence layer for
// UserOperations and Bundles, backed by Postgres via gorm.
package relstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ethbundler/bundler/bundlerparams"
	"github.com/ethbundler/bundler/userop"
)

func errInvalidStoredValue(field, value string) error {
	return fmt.Errorf("relstore: stored %s %q is not a valid integer", field, value)
}

// Store implements mempool.RelationalStore and the bundle repository the
// bundler loop uses, over a single Postgres database.
type Store struct {
	db *gorm.DB
}

// Open connects to Postgres at dsn and runs the auto-migration for the
// user_operations and bundles tables.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("relstore: connect: %w", err)
	}
	if err := db.AutoMigrate(&userOpRow{}, &bundleRow{}); err != nil {
		return nil, fmt.Errorf("relstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("relstore: resolve sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping verifies the database connection is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("relstore: resolve sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// InsertUserOp persists a newly admitted UserOperation as pending.
func (s *Store) InsertUserOp(ctx context.Context, op *userop.UserOperation, hash common.Hash) error {
	row := rowFromUserOp(op, hash, userop.StatusPending)
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("relstore: insert user operation: %w", err)
	}
	return nil
}

// GetUserOp looks up a UserOperation and its current status by hash.
func (s *Store) GetUserOp(ctx context.Context, hash common.Hash) (*userop.UserOperation, userop.Status, error) {
	var row userOpRow
	err := s.db.WithContext(ctx).Where("hash = ?", hash.Hex()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", fmt.Errorf("relstore: user operation %s: %w", hash, gorm.ErrRecordNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("relstore: get user operation: %w", err)
	}
	op, err := row.toUserOp()
	if err != nil {
		return nil, "", err
	}
	return op, userop.Status(row.Status), nil
}

// FindBySenderNonce returns the pending UserOperation at (sender, nonce), if
// any, for the mempool's conflict-detection step.
func (s *Store) FindBySenderNonce(ctx context.Context, sender common.Address, nonce *big.Int) (common.Hash, *userop.UserOperation, bool, error) {
	var row userOpRow
	err := s.db.WithContext(ctx).
		Where("sender = ? AND nonce = ? AND status = ?", sender.Hex(), nonce.String(), string(userop.StatusPending)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return common.Hash{}, nil, false, nil
	}
	if err != nil {
		return common.Hash{}, nil, false, fmt.Errorf("relstore: find sender/nonce: %w", err)
	}
	op, err := row.toUserOp()
	if err != nil {
		return common.Hash{}, nil, false, err
	}
	return common.HexToHash(row.Hash), op, true, nil
}

// UpdateStatus transitions a UserOperation's lifecycle status.
func (s *Store) UpdateStatus(ctx context.Context, hash common.Hash, status userop.Status) error {
	res := s.db.WithContext(ctx).Model(&userOpRow{}).
		Where("hash = ?", hash.Hex()).
		Update("status", string(status))
	if res.Error != nil {
		return fmt.Errorf("relstore: update status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("relstore: update status: %w", gorm.ErrRecordNotFound)
	}
	return nil
}

// MarkConfirmed transitions a UserOperation to confirmed, recording the
// bundle transaction's receipt data (spec section 4.2 step 8). The row is
// updated, never deleted (spec section 3).
func (s *Store) MarkConfirmed(ctx context.Context, hash common.Hash, receipt *userop.Receipt) error {
	logsJSON, err := json.Marshal(receipt.Logs)
	if err != nil {
		return fmt.Errorf("relstore: encode receipt logs: %w", err)
	}
	res := s.db.WithContext(ctx).Model(&userOpRow{}).
		Where("hash = ?", hash.Hex()).
		Updates(map[string]interface{}{
			"status":           string(userop.StatusConfirmed),
			"block_number":     receipt.BlockNumber,
			"block_hash":       receipt.BlockHash.Hex(),
			"transaction_hash": receipt.TransactionHash.Hex(),
			"actual_gas_cost":  receipt.ActualGasCost.String(),
			"actual_gas_used":  receipt.ActualGasUsed,
			"success":          receipt.Success,
			"logs_json":        string(logsJSON),
		})
	if res.Error != nil {
		return fmt.Errorf("relstore: mark confirmed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("relstore: mark confirmed: %w", gorm.ErrRecordNotFound)
	}
	return nil
}

// MarkFailed transitions a UserOperation to failed, recording reason for
// audit (spec section 4.2 step 9). The row is updated, never deleted.
func (s *Store) MarkFailed(ctx context.Context, hash common.Hash, reason string) error {
	res := s.db.WithContext(ctx).Model(&userOpRow{}).
		Where("hash = ?", hash.Hex()).
		Updates(map[string]interface{}{
			"status":         string(userop.StatusFailed),
			"failure_reason": truncate(reason, bundlerparams.MaxBundleErrorLen),
		})
	if res.Error != nil {
		return fmt.Errorf("relstore: mark failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("relstore: mark failed: %w", gorm.ErrRecordNotFound)
	}
	return nil
}

// GetReceipt returns the confirmation receipt for a UserOperation and its
// current status. The receipt is nil unless the row has reached the
// confirmed status.
func (s *Store) GetReceipt(ctx context.Context, hash common.Hash) (*userop.Receipt, userop.Status, error) {
	var row userOpRow
	err := s.db.WithContext(ctx).Where("hash = ?", hash.Hex()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", fmt.Errorf("relstore: user operation %s: %w", hash, gorm.ErrRecordNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("relstore: get receipt: %w", err)
	}
	if userop.Status(row.Status) != userop.StatusConfirmed {
		return nil, userop.Status(row.Status), nil
	}
	receipt, err := row.toReceipt()
	if err != nil {
		return nil, "", err
	}
	return receipt, userop.Status(row.Status), nil
}

// ListPending returns up to limit pending UserOperations ordered by
// admission time, the FIFO-ish ordering the bundler loop packs from.
func (s *Store) ListPending(ctx context.Context, limit int) ([]common.Hash, []*userop.UserOperation, error) {
	var rows []userOpRow
	err := s.db.WithContext(ctx).
		Where("status = ?", string(userop.StatusPending)).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, nil, fmt.Errorf("relstore: list pending: %w", err)
	}

	hashes := make([]common.Hash, len(rows))
	ops := make([]*userop.UserOperation, len(rows))
	for i, row := range rows {
		op, err := row.toUserOp()
		if err != nil {
			return nil, nil, err
		}
		hashes[i] = common.HexToHash(row.Hash)
		ops[i] = op
	}
	return hashes, ops, nil
}

// CountPending reports the number of pending UserOperations.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&userOpRow{}).Where("status = ?", string(userop.StatusPending)).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("relstore: count pending: %w", err)
	}
	return int(count), nil
}

// Clear removes every pending UserOperation, used by the
// eth_bundler_clearMempool administrative method.
func (s *Store) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).Where("status = ?", string(userop.StatusPending)).Delete(&userOpRow{}).Error
	if err != nil {
		return fmt.Errorf("relstore: clear: %w", err)
	}
	return nil
}

// InsertBundle persists a newly created Bundle.
func (s *Store) InsertBundle(ctx context.Context, b *userop.Bundle) error {
	row := &bundleRow{
		ID:           b.ID,
		Status:       string(b.Status),
		SubmittedAt:  b.SubmittedAt,
		UserOpHashes: joinHashes(b.UserOpHashes),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("relstore: insert bundle: %w", err)
	}
	return nil
}

// UpdateBundle persists a Bundle's current lifecycle state.
func (s *Store) UpdateBundle(ctx context.Context, b *userop.Bundle) error {
	updates := map[string]interface{}{
		"status":           string(b.Status),
		"transaction_hash": b.TransactionHash.Hex(),
		"block_number":     b.BlockNumber,
		"error":            truncate(b.Error, bundlerparams.MaxBundleErrorLen),
	}
	res := s.db.WithContext(ctx).Model(&bundleRow{}).Where("id = ?", b.ID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("relstore: update bundle: %w", res.Error)
	}
	return nil
}

// GetBundle loads a Bundle by ID, including its UserOperation hashes.
func (s *Store) GetBundle(ctx context.Context, id string) (*userop.Bundle, error) {
	var row bundleRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, fmt.Errorf("relstore: get bundle: %w", err)
	}
	return &userop.Bundle{
		ID:              row.ID,
		Status:          userop.Status(row.Status),
		SubmittedAt:     row.SubmittedAt,
		TransactionHash: common.HexToHash(row.TransactionHash),
		BlockNumber:     row.BlockNumber,
		Error:           row.Error,
		UserOpHashes:    splitHashes(row.UserOpHashes),
	}, nil
}

func joinHashes(hashes []common.Hash) string {
	parts := make([]string, len(hashes))
	for i, h := range hashes {
		parts[i] = h.Hex()
	}
	return strings.Join(parts, ",")
}

func splitHashes(s string) []common.Hash {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	hashes := make([]common.Hash, len(parts))
	for i, p := range parts {
		hashes[i] = common.HexToHash(p)
	}
	return hashes
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
