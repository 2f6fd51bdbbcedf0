// Command dispatch runs one campaign from the terminal after showing what
// will be sent and asking for confirmation.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Cypherspark/mailing/internal/app"
	"github.com/Cypherspark/mailing/internal/config"
	"github.com/Cypherspark/mailing/internal/core"
	"github.com/Cypherspark/mailing/internal/logger"
)

func main() {
	var exitCode int
	defer func() {
		os.Exit(exitCode)
	}()

	yes := flag.Bool("y", false, "skip the confirmation prompt")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-y] <campaign_id>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		exitCode = 2
		return
	}
	id, err := strconv.ParseInt(flag.Arg(0), 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(os.Stderr, "invalid campaign id %q\n", flag.Arg(0))
		exitCode = 2
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		exitCode = 1
		return
	}
	log := logger.NewWithOutput(logger.Options{Level: cfg.Log.Level, Format: "text", RedactPII: cfg.Log.RedactPII}, os.Stderr)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup: %v\n", err)
		exitCode = 1
		return
	}
	defer a.Close()

	if err := run(ctx, a, id, *yes, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		exitCode = 1
	}
}

func run(ctx context.Context, a *app.App, id int64, yes bool, in io.Reader, out io.Writer) error {
	c, err := a.Store.GetCampaign(ctx, id)
	if err != nil {
		return fmt.Errorf("campaign %d: %w", id, err)
	}
	msg, err := a.Store.GetMessage(ctx, c.MessageID)
	if err != nil {
		return fmt.Errorf("message %d: %w", c.MessageID, err)
	}
	recipients, err := a.Store.ListCampaignRecipients(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now()
	printCampaign(out, c, msg, recipients, now)
	if err := precheck(c, recipients, now); err != nil {
		return err
	}

	if !yes && !confirm(in, out, "Start mailing? (y/n) ") {
		fmt.Fprintln(out, "Mailing cancelled.")
		return nil
	}

	res, err := a.Service.RunDispatch(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Mailing finished: success=%d fail=%d total=%d\n", res.Success, res.Fail, res.Total)
	return nil
}

func printCampaign(out io.Writer, c core.Campaign, msg core.Message, recipients []core.Recipient, now time.Time) {
	fmt.Fprintf(out, "Campaign:  %d\n", c.ID)
	fmt.Fprintf(out, "Status:    %s\n", c.Status)
	fmt.Fprintf(out, "Subject:   %s\n", msg.Subject)
	fmt.Fprintf(out, "Window:    %s .. %s\n", c.StartTime.Format(time.RFC3339), c.EndTime.Format(time.RFC3339))
	fmt.Fprintf(out, "Now:       %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(out, "Recipients (%d):\n", len(recipients))
	for _, r := range recipients {
		fmt.Fprintf(out, "  - %s <%s>\n", r.FullName, r.Email)
	}
}

// precheck refuses a campaign that cannot run before the operator is asked.
func precheck(c core.Campaign, recipients []core.Recipient, now time.Time) error {
	switch {
	case c.Status.Override():
		return fmt.Errorf("campaign %d is %s: %w", c.ID, c.Status, core.ErrCampaignDisabled)
	case !core.InWindow(now, c.StartTime, c.EndTime):
		return fmt.Errorf("campaign %d: %w", c.ID, core.ErrOutOfWindow)
	case len(recipients) == 0:
		return fmt.Errorf("campaign %d: %w", c.ID, core.ErrNoRecipients)
	}
	return nil
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "y")
}
