package payments

import (
	"context"
	"fmt"
	"strings"

	"leaguehub.com/app/internal/mailer"
	"leaguehub.com/app/internal/shared/money"
)

// Alerter escalates a recorded incident to an operator.
type Alerter interface {
	IncidentRecorded(ctx context.Context, inc IntegrityIncident) error
}

// MailAlerter emails each incident to a fixed operator list.
type MailAlerter struct {
	Mailer mailer.Service
	From   string
	To     []string
}

func (a *MailAlerter) IncidentRecorded(ctx context.Context, inc IntegrityIncident) error {
	var b strings.Builder
	fmt.Fprintf(&b, "A processor report was refused and needs review.\n\n")
	fmt.Fprintf(&b, "incident:  %s\n", inc.ID)
	fmt.Fprintf(&b, "kind:      %s\n", inc.Kind)
	fmt.Fprintf(&b, "payment:   %s\n", inc.PaymentID)
	fmt.Fprintf(&b, "intent:    %s\n", inc.ProcessorIntentID)
	fmt.Fprintf(&b, "expected:  %s\n", money.Format(inc.ExpectedCurrency, inc.ExpectedAmount))
	fmt.Fprintf(&b, "reported:  %s (status %q)\n", money.Format(inc.ReportedCurrency, inc.ReportedAmount), inc.ReportedStatus)
	if inc.EvidenceKey != nil {
		fmt.Fprintf(&b, "evidence:  %s\n", *inc.EvidenceKey)
	}
	b.WriteString("\nThe payment record was left unchanged. Resolve with: paymentctl incidents resolve " + inc.ID + "\n")

	return a.Mailer.Send(ctx, mailer.Message{
		From:    a.From,
		To:      a.To,
		Subject: "Payment integrity incident: " + inc.Kind,
		Body:    b.String(),
		Headers: map[string]string{"X-Incident-ID": inc.ID},
	})
}
