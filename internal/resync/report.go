package resync

import (
	"fmt"
	"time"

	"github.com/bartek5186/saunasync/internal/db"
)

const (
	ModeTrigger = "trigger"
	ModeBuiltin = "builtin"
)

// Report to wynik jednego przebiegu (także JSON dla -json i API).
type Report struct {
	RunID         string        `json:"runId"`
	TriggeredBy   string        `json:"triggeredBy"`
	Holder        string        `json:"holder"`
	Status        string        `json:"status"`
	Policy        string        `json:"policy"`
	Mode          string        `json:"mode,omitempty"`
	Found         int           `json:"found"`
	Deleted       int           `json:"deleted"`
	DeleteErrors  int           `json:"deleteErrors"`
	Synced        int           `json:"synced"`
	Errors        int           `json:"errors"`
	Issues        int           `json:"issues"`
	PricesCreated int           `json:"pricesCreated,omitempty"`
	PriceErrors   int           `json:"priceErrors,omitempty"`
	Message       string        `json:"message,omitempty"`
	StartedAt     time.Time     `json:"startedAt"`
	FinishedAt    time.Time     `json:"finishedAt,omitempty"`
	Duration      time.Duration `json:"durationNs"`
}

// Summary to linia dla operatora, format stały.
func (r Report) Summary() string {
	return fmt.Sprintf("Products synced: %d, Errors: %d", r.Synced, r.Errors)
}

func (r Report) Failed() bool { return r.Status == db.RunFailed }

func (r Report) toRow() db.SyncRun {
	return db.SyncRun{
		RunID:        r.RunID,
		TriggeredBy:  r.TriggeredBy,
		Holder:       r.Holder,
		Status:       r.Status,
		Found:        r.Found,
		Deleted:      r.Deleted,
		DeleteErrors: r.DeleteErrors,
		Synced:       r.Synced,
		Errors:       r.Errors,
		Message:      r.Message,
		StartedAt:    r.StartedAt,
	}
}
