package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// --- sync_runs ---

func CreateRun(ctx context.Context, gdb *gorm.DB, run *SyncRun) error {
	return gdb.WithContext(ctx).Create(run).Error
}

// FinishRun zapisuje końcowe liczniki i status przebiegu.
func FinishRun(ctx context.Context, gdb *gorm.DB, run *SyncRun) error {
	now := time.Now().UTC()
	run.FinishedAt = &now
	return gdb.WithContext(ctx).Model(&SyncRun{}).
		Where("run_id = ?", run.RunID).
		Updates(map[string]any{
			"status":        run.Status,
			"found":         run.Found,
			"deleted":       run.Deleted,
			"delete_errors": run.DeleteErrors,
			"synced":        run.Synced,
			"errors":        run.Errors,
			"message":       run.Message,
			"finished_at":   now,
		}).Error
}

func RecentRuns(ctx context.Context, gdb *gorm.DB, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []SyncRun
	err := gdb.WithContext(ctx).Order("started_at desc").Limit(limit).Find(&runs).Error
	return runs, err
}

// --- product_snapshots ---

// UpsertSnapshots zapisuje stan dokumentów; znowu widziany dokument przestaje być "removed".
func UpsertSnapshots(ctx context.Context, gdb *gorm.DB, rows []ProductSnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	return gdb.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "document_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"external_id", "name", "slug", "price", "sale_price",
			"stock_count", "category", "raw_json", "seen_at", "removed_at",
		}),
	}).CreateInBatches(&rows, 200).Error
}

// MarkSnapshotsRemoved oznacza dokumenty skasowane w content store.
func MarkSnapshotsRemoved(ctx context.Context, gdb *gorm.DB, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return gdb.WithContext(ctx).Model(&ProductSnapshot{}).
		Where("document_id IN ?", ids).
		Update("removed_at", at).Error
}

// MarkSnapshotsRemovedExcept oznacza jako removed wszystko, czego nie ma w keep.
func MarkSnapshotsRemovedExcept(ctx context.Context, gdb *gorm.DB, keep []string, at time.Time) error {
	q := gdb.WithContext(ctx).Model(&ProductSnapshot{}).Where("removed_at IS NULL")
	if len(keep) > 0 {
		q = q.Where("document_id NOT IN ?", keep)
	}
	return q.Update("removed_at", at).Error
}

func LiveSnapshots(ctx context.Context, gdb *gorm.DB) ([]ProductSnapshot, error) {
	var rows []ProductSnapshot
	err := gdb.WithContext(ctx).Where("removed_at IS NULL").Order("name").Find(&rows).Error
	return rows, err
}

// --- price_records ---

func SavePrice(ctx context.Context, gdb *gorm.DB, p *PriceRecord) error {
	return gdb.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "price_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"product_id", "external_id", "amount", "currency", "variant"}),
	}).Create(p).Error
}

// --- sync_issues ---

func ListIssues(ctx context.Context, gdb *gorm.DB) ([]SyncIssue, error) {
	var rows []SyncIssue
	err := gdb.WithContext(ctx).Order("reason, external_id").Find(&rows).Error
	return rows, err
}

// --- kv ---

func GetKV(ctx context.Context, gdb *gorm.DB, k string) (string, bool, error) {
	var row KV
	err := gdb.WithContext(ctx).Where("k = ?", k).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.V, true, nil
}

func SetKV(ctx context.Context, gdb *gorm.DB, k, v string) error {
	return gdb.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "k"}},
		DoUpdates: clause.AssignmentColumns([]string{"v"}),
	}).Create(&KV{K: k, V: v}).Error
}
