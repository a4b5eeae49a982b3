package service

import (
	"context"
	"log/slog"
)

// RoleManager applies the external role side effect of an entitlement
// change. Implementations are best-effort; callers log failures and move on.
type RoleManager interface {
	GrantRole(ctx context.Context, subjectID uint64) error
	RevokeRole(ctx context.Context, subjectID uint64) error
}

// Notifier delivers a message to a subject out of band.
type Notifier interface {
	NotifySubject(ctx context.Context, subjectID uint64, message string) error
}

// LogCollaborator is the fallback RoleManager/Notifier used when no chat
// front end is configured. It records the side effect and succeeds.
type LogCollaborator struct {
	Logger *slog.Logger
}

func (c *LogCollaborator) GrantRole(_ context.Context, subjectID uint64) error {
	c.Logger.Info("role grant (no collaborator configured)", "subject_id", subjectID)
	return nil
}

func (c *LogCollaborator) RevokeRole(_ context.Context, subjectID uint64) error {
	c.Logger.Info("role revoke (no collaborator configured)", "subject_id", subjectID)
	return nil
}

func (c *LogCollaborator) NotifySubject(_ context.Context, subjectID uint64, message string) error {
	c.Logger.Info("subject notice (no collaborator configured)", "subject_id", subjectID, "message", message)
	return nil
}
