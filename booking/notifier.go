package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/liamcoop/admission/internal/logger"
)

// Alert is a low-stock advisory raised after an admitted booking.
// It is informational and never reserves stock.
type Alert struct {
	ID         string    `json:"id"`
	ClinicID   string    `json:"clinic_id"`
	Service    string    `json:"service"`
	StockLevel int       `json:"stock_level"`
	Threshold  int       `json:"threshold"`
	PatientRef string    `json:"patient_ref,omitempty"`
	RaisedAt   time.Time `json:"raised_at"`
}

// Notifier delivers low-stock alerts to the stock-alert collaborator
type Notifier interface {
	LowStock(ctx context.Context, a Alert) error
}

// LogNotifier writes alerts to the structured log
type LogNotifier struct{}

func (LogNotifier) LowStock(_ context.Context, a Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	logger.Info("low stock alert",
		"alert_id", a.ID,
		"clinic", a.ClinicID,
		"service", a.Service,
		"stock_level", a.StockLevel,
		"threshold", a.Threshold,
	)
	return nil
}
