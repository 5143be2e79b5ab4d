package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"speedtrap-service/internal/domain/violation"
)

type EmailConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Sender     string
	Recipients []string
}

type sendFunc func(ctx context.Context, msg *mail.Msg) error

// EmailNotifier mails every violation to a fixed recipient list.
type EmailNotifier struct {
	cfg  EmailConfig
	send sendFunc
}

func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	n := &EmailNotifier{cfg: cfg}
	n.send = n.dialAndSend
	return n
}

func (n *EmailNotifier) Notify(ctx context.Context, v violation.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := n.message(v)
	if err != nil {
		return fmt.Errorf("email notify %s: %w", v.LicensePlate, err)
	}
	if err := n.send(ctx, msg); err != nil {
		return fmt.Errorf("email notify %s: %w", v.LicensePlate, err)
	}
	return nil
}

func (n *EmailNotifier) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(n.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if n.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.cfg.Username),
			mail.WithPassword(n.cfg.Password),
		)
	}

	client, err := mail.NewClient(n.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// message sets Date and Message-ID; go-mail encodes non-ASCII headers such
// as Cyrillic plates in the subject.
func (n *EmailNotifier) message(v violation.Record) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(n.cfg.Sender); err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	if err := msg.To(n.cfg.Recipients...); err != nil {
		return nil, fmt.Errorf("recipients: %w", err)
	}
	msg.Subject("Speed Violation: " + v.LicensePlate)
	msg.SetDate()
	msg.SetMessageID()

	var b strings.Builder
	b.WriteString("Speed Violation Detected:\n\n")
	fmt.Fprintf(&b, "License Plate: %s\n", v.LicensePlate)
	fmt.Fprintf(&b, "Speed: %.1f km/h\n", v.Speed)
	fmt.Fprintf(&b, "Speed Limit: %.1f km/h\n", v.SpeedLimit)
	fmt.Fprintf(&b, "Location: %s\n", v.Location)
	fmt.Fprintf(&b, "Time: %s\n", v.Timestamp.Format("2006-01-02 15:04:05"))
	if v.ImagePath != "" {
		fmt.Fprintf(&b, "Snapshot: %s\n", v.ImagePath)
	}
	b.WriteString("\nThis is an automated notification.\n")
	msg.SetBodyString(mail.TypeTextPlain, b.String())
	return msg, nil
}
