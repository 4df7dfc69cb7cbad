package db

import (
	"fmt"
)

// Migrate tworzy/aktualizuje schemat bazy.
// Kolejność:
//  1. jeśli sync_issues istnieje -> hard purge (audyt i tak przebudowuje ją co resync)
//  2. AutoMigrate
func (h *Handle) Migrate() error {
	gdb := h.DB

	// 1) stare duplikaty blokowałyby utworzenie uniq_issue_key
	if gdb.Migrator().HasTable(&SyncIssue{}) {
		if err := gdb.Where("1=1").Delete(&SyncIssue{}).Error; err != nil {
			return fmt.Errorf("purge sync_issues: %w", err)
		}
	}

	// 2) AutoMigrate
	if err := gdb.AutoMigrate(
		&ImportFile{},
		&StProduct{},
		&ProductSnapshot{},
		&SyncRun{},
		&SyncLease{},
		&SyncIssue{},
		&PriceRecord{},
		&UserPermission{},
		&KV{},
	); err != nil {
		return fmt.Errorf("AutoMigrate error: %w", err)
	}

	return nil
}
