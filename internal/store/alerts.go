package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/BuXianWanYin/fish-dish-iot/internal/model"
)

func keyScope(tx *gorm.DB, k model.AlertKey) *gorm.DB {
	return tx.Where("device_id = ? AND param_name = ? AND pasture_id = ? AND batch_id = ?",
		k.DeviceID, k.ParamName, k.PastureID, k.BatchID)
}

// LatestAlert returns the most recent alert for the key and direction, or nil.
func (s *Store) LatestAlert(ctx context.Context, k model.AlertKey, dir model.Direction) (*model.Alert, error) {
	var a model.Alert
	err := keyScope(s.db.WithContext(ctx), k).
		Where("alert_type = ?", dir).
		Order("alert_time DESC").
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// OpenAlerts returns the unresolved alerts of the key, whatever the direction.
func (s *Store) OpenAlerts(ctx context.Context, k model.AlertKey) ([]model.Alert, error) {
	var out []model.Alert
	err := keyScope(s.db.WithContext(ctx), k).
		Where("status = ?", model.AlertOpen).
		Order("alert_time DESC").
		Find(&out).Error
	return out, err
}

func (s *Store) InsertAlert(ctx context.Context, a *model.Alert) error {
	return s.db.WithContext(ctx).Create(a).Error
}

// ResolveAlert marks an open alert as resolved. Already resolved alerts are
// left untouched and reported as ErrNotFound.
func (s *Store) ResolveAlert(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.Alert{}).
		Where("id = ? AND status = ?", id, model.AlertOpen).
		Updates(map[string]any{"status": model.AlertResolved, "update_time": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type AlertFilter struct {
	DeviceID string
	Status   *model.AlertStatus
	Limit    int
}

func (s *Store) ListAlerts(ctx context.Context, f AlertFilter) ([]model.Alert, error) {
	q := s.db.WithContext(ctx).Order("alert_time DESC")
	if f.DeviceID != "" {
		q = q.Where("device_id = ?", f.DeviceID)
	}
	if f.Status != nil {
		q = q.Where("status = ?", *f.Status)
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	var out []model.Alert
	err := q.Limit(f.Limit).Find(&out).Error
	return out, err
}
