package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Setting keys used by the core. Values live in the settings table and
// are read on every call so admin changes apply on the next operation.
const (
	SettingMaxReverseRegistration       = "max_reverse_registration_time"
	SettingMaxReverseRegistrationLogged = "max_reverse_registration_time_logged"
	SettingMaxWorkTime                  = "max_work_time"
	SettingMaxBreakTime                 = "max_time_break"
	SettingMaxSummariseBreakTime        = "max_summarise_break_time"
	SettingWorkLogNotificationStart     = "work_log_notification_start"
	SettingWorkLogNotificationEnd       = "work_log_notification_end"
	SettingMaxTimeAway                  = "max_time_away"
	SettingTimeAwayNotification         = "time_away_when_user_get_notification"
	SettingPresenceInterval             = "check_presence_interval"
	SettingAnomalyInterval              = "searching_anomalies_interval"
)

type SettingStore interface {
	SettingValue(ctx context.Context, key string) (string, error)
	UpdateSetting(ctx context.Context, key, value string) error
	AllSettings(ctx context.Context) (map[string]string, error)
}

type SettingsService struct {
	store SettingStore
}

func NewSettingsService(store SettingStore) *SettingsService {
	return &SettingsService{store: store}
}

func (s *SettingsService) GetString(ctx context.Context, key string) (string, error) {
	return s.store.SettingValue(ctx, key)
}

func (s *SettingsService) GetInt(ctx context.Context, key string) (int, error) {
	value, err := s.store.SettingValue(ctx, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("setting %q: cannot parse %q as int", key, value)
	}
	return n, nil
}

func (s *SettingsService) GetBool(ctx context.Context, key string) (bool, error) {
	value, err := s.store.SettingValue(ctx, key)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("setting %q: cannot parse %q as bool", key, value)
	}
	return b, nil
}

// GetTimeOfDay parses a "HH:MM" setting into hour and minute.
func (s *SettingsService) GetTimeOfDay(ctx context.Context, key string) (hour, minute int, err error) {
	value, err := s.store.SettingValue(ctx, key)
	if err != nil {
		return 0, 0, err
	}
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("setting %q: cannot parse %q as HH:MM", key, value)
	}
	hour, err = strconv.Atoi(parts[0])
	if err == nil {
		minute, err = strconv.Atoi(parts[1])
	}
	if err != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("setting %q: cannot parse %q as HH:MM", key, value)
	}
	return hour, minute, nil
}

func (s *SettingsService) Update(ctx context.Context, key, value string) error {
	return s.store.UpdateSetting(ctx, key, value)
}

func (s *SettingsService) All(ctx context.Context) (map[string]string, error) {
	return s.store.AllSettings(ctx)
}
