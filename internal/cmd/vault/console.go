package vault

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/emberforge/playervault/internal/hologram"
	"github.com/emberforge/playervault/internal/host/hosttest"
	"github.com/emberforge/playervault/internal/vault/command"
	"github.com/emberforge/playervault/internal/vault/domain"
)

// console is the reference server's line-based operator surface. It drives
// the same command layer an embedding platform would, against one demo
// player.
type console struct {
	commands  *command.Commands
	holograms *hologram.Manager
	host      *hosttest.Host
	operator  uuid.UUID
	target    command.Target
	out       io.Writer
}

func newConsole(commands *command.Commands, holograms *hologram.Manager, h *hosttest.Host, out io.Writer) *console {
	operator := uuid.New()
	principal := uuid.New()
	h.AddPlayer(operator, "minecraft:overworld", 0, 64, 0)
	h.AddPlayer(principal, "minecraft:overworld", 0, 64, 0)
	h.SeedAccessories(principal, "ring", []domain.Item{domain.Empty(), domain.Empty()})
	return &console{
		commands:  commands,
		holograms: holograms,
		host:      h,
		operator:  operator,
		target:    command.Target{Principal: principal, Label: "demo"},
		out:       out,
	}
}

// run reads commands until the input closes or ctx is canceled.
func (c *console) run(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := c.handle(ctx, scanner.Text()); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		c.flushMessages()
	}
}

func (c *console) handle(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "create":
		return c.commands.Create(ctx, c.operator, c.target)
	case "list":
		page := 1
		if len(fields) > 1 {
			page, _ = strconv.Atoi(fields[1])
		}
		return c.commands.List(ctx, c.operator, c.target, page)
	case "view":
		number, err := argNumber(fields)
		if err != nil {
			return err
		}
		section := ""
		if len(fields) > 2 {
			section = fields[2]
		}
		return c.commands.View(ctx, c.operator, c.target, number, section)
	case "restore":
		number, err := argNumber(fields)
		if err != nil {
			return err
		}
		return c.commands.Restore(ctx, c.operator, c.target, number)
	case "deleteall":
		return c.commands.DeleteAll(ctx, c.operator, c.target)
	case "holo":
		return c.handleHolo(fields[1:])
	case "help":
		fmt.Fprintln(c.out, "commands: create, list [page], view <n> [section], restore <n>, deleteall, holo <create|delete|addline|list> ...")
		return nil
	}
	return fmt.Errorf("unknown command %q (try help)", fields[0])
}

func (c *console) handleHolo(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("holo requires a subcommand")
	}
	switch args[0] {
	case "create":
		if len(args) < 2 {
			return fmt.Errorf("holo create <id> [line...]")
		}
		loc := hologram.Location{WorldID: "minecraft:overworld", X: 0, Y: 70, Z: 0}
		_, err := c.holograms.Create(args[1], loc, args[2:])
		return err
	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("holo delete <id>")
		}
		return c.holograms.Delete(args[1])
	case "addline":
		if len(args) < 3 {
			return fmt.Errorf("holo addline <id> <text>")
		}
		return c.holograms.AddLine(args[1], strings.Join(args[2:], " "))
	case "list":
		for _, h := range c.holograms.All() {
			fmt.Fprintf(c.out, "%s at %s (%.0f, %.0f, %.0f): %s\n",
				h.ID, h.Location.WorldID, h.Location.X, h.Location.Y, h.Location.Z,
				strings.Join(h.Lines, " | "))
		}
		return nil
	}
	return fmt.Errorf("unknown holo subcommand %q", args[0])
}

// flushMessages prints chat lines the command layer sent to the operator.
func (c *console) flushMessages() {
	for _, msg := range c.host.Messages(c.operator) {
		fmt.Fprintln(c.out, msg)
	}
	c.host.ClearMessages(c.operator)
}

func argNumber(fields []string) (int, error) {
	if len(fields) < 2 {
		return 0, fmt.Errorf("%s requires a backup number", fields[0])
	}
	number, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("backup number must be an integer: %w", err)
	}
	return number, nil
}
