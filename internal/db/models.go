// internal/db/models.go
package db

import "time"

// import_files: pliki feedu produktowego wrzucone do watch_dir
type ImportFile struct {
	ImportID    uint   `gorm:"primaryKey;column:import_id"`
	Filename    string `gorm:"uniqueIndex"`
	SHA256      string `gorm:"uniqueIndex"`
	SizeBytes   int64
	Status      int    `gorm:"index"` // 0=pending, 1=done, 2=error
	LastError   string `gorm:"type:text"`
	Products    int
	ReceivedAt  time.Time `gorm:"autoCreateTime"`
	ProcessedAt *time.Time
}

const (
	ImportPending = 0
	ImportDone    = 1
	ImportError   = 2
)

// st_products (staging feedu)
type StProduct struct {
	ImportID     uint   `gorm:"primaryKey"`
	ExternalID   string `gorm:"primaryKey"`
	Name         string
	Description  string `gorm:"type:text"`
	Category     string
	Currency     string
	Price        float64
	SalePrice    float64
	Stock        int
	Available    bool
	ImagesJSON   string `gorm:"type:text"`
	FeaturesJSON string `gorm:"type:text"`
	VariantsJSON string `gorm:"type:text"`
}

// product_snapshots: lokalna kopia rekordów z content store (ostatni znany stan)
type ProductSnapshot struct {
	DocumentID string `gorm:"primaryKey"`
	ExternalID string `gorm:"index"` // ghlProductId
	Name       string
	Slug       string `gorm:"index"`
	Price      float64
	SalePrice  float64
	StockCount int
	Category   string
	RawJSON    string    `gorm:"type:text"`
	SeenAt     time.Time `gorm:"index"`
	RemovedAt  *time.Time
}

// sync_runs: historia resync
type SyncRun struct {
	RunID        string `gorm:"primaryKey"`
	TriggeredBy  string
	Holder       string
	Status       string `gorm:"index"` // running/completed/failed/skipped
	Found        int
	Deleted      int
	DeleteErrors int
	Synced       int
	Errors       int
	Message      string    `gorm:"type:text"`
	StartedAt    time.Time `gorm:"index"`
	FinishedAt   *time.Time
}

const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunSkipped   = "skipped"
)

// sync_leases: token wzajemnego wykluczania wokół delete-then-recreate
type SyncLease struct {
	Name       string `gorm:"primaryKey"`
	Holder     string
	ExpiresAt  time.Time `gorm:"index"`
	AcquiredAt time.Time
}

// sync_issues: problemy katalogu wykryte po resync (pełny rebuild co przebieg)
type SyncIssue struct {
	ID          uint   `gorm:"primaryKey"`
	ExternalID  string `gorm:"uniqueIndex:uniq_issue_key"`
	Reason      string `gorm:"uniqueIndex:uniq_issue_key"`
	DocumentIDs string `gorm:"uniqueIndex:uniq_issue_key"`
	Details     string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// price_records: ceny założone u operatora płatności
type PriceRecord struct {
	PriceID    string `gorm:"primaryKey"`
	ProductID  string `gorm:"index"`
	ExternalID string `gorm:"index"`
	Amount     int64
	Currency   string
	Variant    string
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// user_permissions: uprawnienia do panelu treści, klucz = identyfikator z providera auth
type UserPermission struct {
	UserID         string `gorm:"primaryKey"`
	Role           string
	CanEditContent bool
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

func (UserPermission) TableName() string { return "user_permissions" }

type KV struct {
	K string `gorm:"primaryKey"`
	V string
}
