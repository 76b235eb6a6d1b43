// Package command implements the operator-facing command surface: creating,
// listing, viewing, restoring, and wiping backups. Output goes to the
// operator as chat lines; authorization is delegated to the platform's
// capability provider.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/emberforge/playervault/internal/platform/errors"
	"github.com/emberforge/playervault/internal/host"
	"github.com/emberforge/playervault/internal/vault/domain"
	"github.com/emberforge/playervault/internal/vault/service"
	"github.com/emberforge/playervault/internal/vault/viewer"
)

// Capabilities gating each operation.
const (
	CapCreate    = "playervault.create"
	CapList      = "playervault.list"
	CapView      = "playervault.view"
	CapRestore   = "playervault.restore"
	CapDeleteAll = "playervault.deleteall"
)

// pageSize is the number of listing lines per page.
const pageSize = 10

// CapabilityProvider answers whether an operator may run a gated operation.
type CapabilityProvider interface {
	HasCapability(operator uuid.UUID, capability string) bool
}

// AllowAll grants every capability; the default for single-operator hosts.
type AllowAll struct{}

func (AllowAll) HasCapability(uuid.UUID, string) bool { return true }

// Target identifies the player a command operates on.
type Target struct {
	Principal uuid.UUID
	Label     string
}

// Commands is the operator command surface.
type Commands struct {
	service *service.Service
	viewer  *viewer.Manager
	host    host.Host
	caps    CapabilityProvider
	logger  *slog.Logger
}

func New(svc *service.Service, viewerManager *viewer.Manager, h host.Host, caps CapabilityProvider, logger *slog.Logger) *Commands {
	if caps == nil {
		caps = AllowAll{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Commands{service: svc, viewer: viewerManager, host: h, caps: caps, logger: logger}
}

func (c *Commands) authorize(ctx context.Context, operator uuid.UUID, capability string) error {
	if c.caps.HasCapability(operator, capability) {
		return nil
	}
	_ = c.host.SendMessage(ctx, operator, "You do not have permission to do that.")
	return apperrors.WithMetadata(apperrors.CodeCapabilityDenied, "capability denied",
		map[string]string{"capability": capability})
}

// Create captures a manual backup of the target.
func (c *Commands) Create(ctx context.Context, operator uuid.UUID, target Target) error {
	if err := c.authorize(ctx, operator, CapCreate); err != nil {
		return err
	}
	snapshot, err := c.service.Capture(ctx, target.Principal, target.Label, domain.EventManual, "")
	if err != nil {
		_ = c.host.SendMessage(ctx, operator, "Backup failed: "+err.Error())
		return err
	}
	return c.host.SendMessage(ctx, operator,
		fmt.Sprintf("Created backup #%d for %s.", snapshot.BackupNumber, target.Label))
}

// List prints one page of the target's backups, newest first. Pages are
// 1-based.
func (c *Commands) List(ctx context.Context, operator uuid.UUID, target Target, page int) error {
	if err := c.authorize(ctx, operator, CapList); err != nil {
		return err
	}
	if page < 1 {
		page = 1
	}
	summaries, err := c.service.List(ctx, target.Principal)
	if err != nil {
		_ = c.host.SendMessage(ctx, operator, "Listing failed: "+err.Error())
		return err
	}
	if len(summaries) == 0 {
		return c.host.SendMessage(ctx, operator, target.Label+" has no backups.")
	}

	pages := (len(summaries) + pageSize - 1) / pageSize
	if page > pages {
		return c.host.SendMessage(ctx, operator,
			fmt.Sprintf("No backups on page %d (%d pages).", page, pages))
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if end > len(summaries) {
		end = len(summaries)
	}

	if err := c.host.SendMessage(ctx, operator,
		fmt.Sprintf("Backups for %s (page %d/%d):", target.Label, page, pages)); err != nil {
		return err
	}
	for _, summary := range summaries[start:end] {
		if err := c.host.SendMessage(ctx, operator, formatSummary(summary)); err != nil {
			return err
		}
	}
	return nil
}

// View opens the snapshot viewer on the target's numbered backup. section
// selects the starting tab; empty means main.
func (c *Commands) View(ctx context.Context, operator uuid.UUID, target Target, number int, section string) error {
	if err := c.authorize(ctx, operator, CapView); err != nil {
		return err
	}
	if err := c.viewer.Open(ctx, operator, target.Principal, number, section); err != nil {
		switch apperrors.CodeOf(err) {
		case apperrors.CodeNotFound:
			_ = c.host.SendMessage(ctx, operator,
				fmt.Sprintf("%s has no backup #%d.", target.Label, number))
		case apperrors.CodeBadSection:
			_ = c.host.SendMessage(ctx, operator,
				fmt.Sprintf("Unknown section %q.", section))
		}
		return err
	}
	return nil
}

// Restore applies the target's numbered backup to their live state.
func (c *Commands) Restore(ctx context.Context, operator uuid.UUID, target Target, number int) error {
	if err := c.authorize(ctx, operator, CapRestore); err != nil {
		return err
	}
	result, err := c.service.Restore(ctx, target.Principal, number)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeNotFound {
			_ = c.host.SendMessage(ctx, operator,
				fmt.Sprintf("%s has no backup #%d.", target.Label, number))
		} else {
			_ = c.host.SendMessage(ctx, operator, "Restore failed: "+err.Error())
		}
		return err
	}
	if len(result.Failed) > 0 {
		return c.host.SendMessage(ctx, operator,
			fmt.Sprintf("Restored backup #%d for %s with failures: %s.",
				number, target.Label, strings.Join(result.Failed, ", ")))
	}
	return c.host.SendMessage(ctx, operator,
		fmt.Sprintf("Restored backup #%d for %s.", number, target.Label))
}

// DeleteAll wipes every backup of the target.
func (c *Commands) DeleteAll(ctx context.Context, operator uuid.UUID, target Target) error {
	if err := c.authorize(ctx, operator, CapDeleteAll); err != nil {
		return err
	}
	count, err := c.service.DeleteAll(ctx, target.Principal)
	if err != nil {
		_ = c.host.SendMessage(ctx, operator, "Delete failed: "+err.Error())
		return err
	}
	c.logger.Info("backups wiped by operator",
		"operator", operator.String(),
		"principal", target.Principal.String(),
		"count", count)
	return c.host.SendMessage(ctx, operator,
		fmt.Sprintf("Deleted %d backups of %s.", count, target.Label))
}

func formatSummary(summary domain.Summary) string {
	return fmt.Sprintf("#%d %s %s %s",
		summary.BackupNumber,
		summary.CapturedAt.UTC().Format("2006-01-02 15:04"),
		eventMarker(summary.EventKind),
		friendlyWorldName(summary.WorldID))
}

func eventMarker(kind domain.EventKind) string {
	switch kind {
	case domain.EventLogin:
		return "[login]"
	case domain.EventLogout:
		return "[logout]"
	case domain.EventDeath:
		return "[death]"
	case domain.EventManual:
		return "[manual]"
	}
	return "[" + string(kind) + "]"
}

func friendlyWorldName(worldID string) string {
	switch worldID {
	case "minecraft:overworld":
		return "Overworld"
	case "minecraft:the_nether":
		return "Nether"
	case "minecraft:the_end":
		return "End"
	}
	return worldID
}
