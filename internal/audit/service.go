package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service records privileged actions. Recording is part of the admin
// operation: a failed audit write fails the operation.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService builds an audit service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Record appends an entry for the given action. before and after are
// marshalled to JSON; nil values are stored as NULL.
func (s *Service) Record(ctx context.Context, actor Actor, action string, targetUser, targetEntity string, before, after any) error {
	entry := Entry{
		ID:           uuid.NewString(),
		AdminID:      actor.AdminID,
		Action:       action,
		TargetUser:   targetUser,
		TargetEntity: targetEntity,
		IP:           actor.IP,
		UserAgent:    actor.UserAgent,
		CreatedAt:    time.Now().UTC(),
	}
	var err error
	if entry.Before, err = marshal(before); err != nil {
		return err
	}
	if entry.After, err = marshal(after); err != nil {
		return err
	}
	if err := s.store.Append(ctx, entry); err != nil {
		return err
	}
	s.logger.Info("admin action recorded",
		slog.String("action", action),
		slog.String("admin", actor.AdminID),
		slog.String("target_user", targetUser),
		slog.String("target_entity", targetEntity))
	return nil
}

// ByAdmin lists recent entries for one admin.
func (s *Service) ByAdmin(ctx context.Context, adminID string, limit int) ([]Entry, error) {
	return s.store.ByAdmin(ctx, adminID, limit)
}

// ByTargetUser lists recent entries touching one user.
func (s *Service) ByTargetUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	return s.store.ByTargetUser(ctx, userID, limit)
}

func marshal(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
