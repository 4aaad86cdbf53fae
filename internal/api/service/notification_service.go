package service

import (
	"fmt"
	"time"

	"transfer"

	"github.com/rs/zerolog"
	gomail "github.com/wneessen/go-mail"
)

// NotificationService mails the operator when a pipeline execution fails.
// Sending is best effort: a broken or missing SMTP setup never affects the
// execution outcome.
type NotificationService struct {
	logger zerolog.Logger
}

func NewNotificationService() *NotificationService {
	return &NotificationService{
		logger: transfer.Logger,
	}
}

// IsConfigured returns true when the app-level SMTP settings are filled in.
func (slf *NotificationService) IsConfigured() bool {
	cfg := transfer.GetConfig().SmtpConfig
	return cfg.Host != "" && cfg.Username != "" && len(cfg.NotifyTo) > 0
}

// NotifyExecutionFailed reports a failed execution for the given pipeline.
func (slf *NotificationService) NotifyExecutionFailed(sessionID, pipelineID, reason string) {
	if !slf.IsConfigured() {
		return
	}

	subject := fmt.Sprintf("Pipeline execution failed: %s", pipelineID)
	body := fmt.Sprintf(
		"Execution of pipeline %s failed at %s.\n\nSession: %s\nReason: %s\n",
		pipelineID, time.Now().Format(time.RFC3339), sessionID, reason,
	)
	if err := slf.send(subject, body); err != nil {
		slf.logger.Error().Err(err).Str("pipelineId", pipelineID).Msg("Failed to send execution failure notification")
		return
	}
	slf.logger.Info().Str("pipelineId", pipelineID).Msg("Execution failure notification sent")
}

func (slf *NotificationService) send(subject, body string) error {
	cfg := transfer.GetConfig().SmtpConfig

	from := cfg.From
	if from == "" {
		from = cfg.Username
	}

	m := gomail.NewMsg()
	if err := m.From(from); err != nil {
		return fmt.Errorf("failed to set from: %w", err)
	}
	if err := m.To(cfg.NotifyTo...); err != nil {
		return fmt.Errorf("failed to set to: %w", err)
	}
	m.Subject(subject)
	m.SetBodyString(gomail.TypeTextPlain, body)

	tlsPolicy := gomail.TLSOpportunistic
	if cfg.UseTLS {
		tlsPolicy = gomail.TLSMandatory
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(tlsPolicy),
	}
	if cfg.Password != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	client, err := gomail.NewClient(cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}

	if err := client.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
