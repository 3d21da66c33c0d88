package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"leaguehub.com/app/internal/app"
	"leaguehub.com/app/internal/modules/payments"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the payment, outbox, notification, incident and activation tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Migrate(); err != nil {
				return err
			}
			fmt.Println("✓ schema up to date")
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Publish every committed outcome event that has not reached the bus",
		Long: `Publish pending outbox rows once and exit.

Rows that still fail stay pending with their attempt count and last error;
the command exits non-zero so schedulers notice.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return runSweep(cmd.Context(), a, cmd.OutOrStdout())
		},
	}
}

// runSweep refuses the in-process bus: its only consumer lives inside
// cmd/web, so publishing from here would mark rows sent that nobody received.
func runSweep(ctx context.Context, a *app.App, out io.Writer) error {
	if a.Stream == nil {
		return errors.New("sweep needs REDIS_ADDR; without Redis, cmd/web publishes its own outbox")
	}
	n, sweepErr := a.Dispatcher.Sweep(ctx)
	pending, err := a.Dispatcher.Pending(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "published: %d\npending:   %d\n", n, pending)
	return sweepErr
}

func reconcileCmd() *cobra.Command {
	var intentID string
	cmd := &cobra.Command{
		Use:     "reconcile",
		Short:   "Fetch an intent from the processor and reconcile its status",
		Example: `  paymentctl reconcile --intent pi_3Nf...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(intentID) == "" {
				return errors.New("--intent is required")
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Payments.PollAndReconcile(cmd.Context(), intentID)
			if err != nil {
				return err
			}
			switch {
			case res.Pending:
				fmt.Printf("payment %s: processor has not settled yet\n", res.Payment.ID)
			case res.Applied:
				fmt.Printf("payment %s: %s\n", res.Payment.ID, res.Payment.Status)
			default:
				fmt.Printf("payment %s: already %s\n", res.Payment.ID, res.Payment.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&intentID, "intent", "", "processor intent id")
	return cmd
}

func incidentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "List, show or resolve integrity incidents",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List open incidents, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			open, err := a.Incidents.ListOpen(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(open) == 0 {
				fmt.Println("no open incidents")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tPAYMENT\tEXPECTED\tREPORTED\tCREATED")
			for _, inc := range open {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d %s\t%d %s %s\t%s\n",
					inc.ID, inc.Kind, inc.PaymentID,
					inc.ExpectedAmount, inc.ExpectedCurrency,
					inc.ReportedAmount, inc.ReportedCurrency, inc.ReportedStatus,
					inc.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 50, "maximum incidents to show")

	resolve := &cobra.Command{
		Use:   "resolve <incident-id>",
		Short: "Mark an incident as handled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Incidents.Resolve(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("no incident %s", args[0])
				}
				return err
			}
			fmt.Printf("✓ incident %s resolved\n", args[0])
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <incident-id>",
		Short: "Print an incident and its archived evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return showIncident(cmd.Context(), a, args[0], cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(list, show, resolve)
	return cmd
}

func showIncident(ctx context.Context, a *app.App, id string, out io.Writer) error {
	inc, err := a.Incidents.Get(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("no incident %s", id)
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "id:\t%s\n", inc.ID)
	fmt.Fprintf(w, "kind:\t%s\n", inc.Kind)
	fmt.Fprintf(w, "payment:\t%s\n", inc.PaymentID)
	fmt.Fprintf(w, "intent:\t%s\n", inc.ProcessorIntentID)
	fmt.Fprintf(w, "expected:\t%d %s\n", inc.ExpectedAmount, inc.ExpectedCurrency)
	fmt.Fprintf(w, "reported:\t%d %s %s\n", inc.ReportedAmount, inc.ReportedCurrency, inc.ReportedStatus)
	fmt.Fprintf(w, "created:\t%s\n", inc.CreatedAt.Format(time.RFC3339))
	if inc.ResolvedAt != nil {
		fmt.Fprintf(w, "resolved:\t%s\n", inc.ResolvedAt.Format(time.RFC3339))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	evidence, err := a.Incidents.Evidence(ctx, inc)
	switch {
	case errors.Is(err, payments.ErrNoEvidence):
		fmt.Fprintln(out, "\nno archived evidence")
		return nil
	case err != nil:
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, evidence, "", "  ") != nil {
		pretty.Reset()
		pretty.Write(evidence)
	}
	fmt.Fprintf(out, "\nevidence (%s):\n%s\n", *inc.EvidenceKey, pretty.String())
	return nil
}
