package registration

import (
	"context"
	"fmt"
	"html"

	"skyportal/internal/domain"
)

// Notifier tells a new user their registration went through. Failures are
// logged by the orchestrator and never change the outcome.
type Notifier interface {
	Welcome(ctx context.Context, email string, details domain.PersonalDetails, outcome *Outcome) error
}

// Sender is satisfied by *mailer.Mailer.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// MailNotifier sends the welcome email over SMTP.
type MailNotifier struct {
	sender Sender
}

func NewMailNotifier(s Sender) *MailNotifier {
	return &MailNotifier{sender: s}
}

func (n *MailNotifier) Welcome(ctx context.Context, email string, details domain.PersonalDetails, outcome *Outcome) error {
	name := html.EscapeString(domain.DisplayNameFor(details))

	body := fmt.Sprintf(`<p>Welcome aboard, %s!</p>
<p>Your flight school account is ready. You can sign in with %s.</p>`, name, html.EscapeString(email))

	if missing := len(outcome.FailedDocuments); missing > 0 {
		body += fmt.Sprintf(`<p>%d document(s) could not be stored. Please upload them again from your profile.</p>`, missing)
	}

	return n.sender.Send(ctx, email, "Your flight school registration is complete", body)
}

type nopNotifier struct{}

func (nopNotifier) Welcome(context.Context, string, domain.PersonalDetails, *Outcome) error {
	return nil
}
