package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/smsrelay/smsrelay/internal/metrics"
	"github.com/smsrelay/smsrelay/internal/relay"
)

// Config carries the SMTP server coordinates and credentials.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

// Transport delivers email over SMTP. Each Send opens a fresh session:
// first plaintext with STARTTLS upgrade, then implicit TLS on the same
// port when the first handshake fails. Providers disagree on which mode
// a given port speaks, so the transport probes both.
type Transport struct {
	cfg    Config
	logger *zap.Logger
}

// NewTransport creates an SMTP transport.
func NewTransport(cfg Config, logger *zap.Logger) *Transport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Transport{cfg: cfg, logger: logger}
}

// Send transmits one composed email, classifying failures with
// relay.SendError.
func (t *Transport) Send(ctx context.Context, email *relay.OutboundEmail) error {
	start := time.Now()
	defer func() {
		metrics.RecordTransportSend("smtp", time.Since(start))
	}()

	msg := buildMessage(email, time.Now())

	err := t.sendStartTLS(ctx, email, msg)
	if err == nil {
		return nil
	}
	if !shouldFallback(err) {
		return classify(err)
	}

	t.logger.Debug("starttls attempt failed, retrying with implicit tls",
		zap.String("host", t.cfg.Host),
		zap.Int("port", t.cfg.Port),
		zap.Error(err),
	)

	tlsErr := t.sendImplicitTLS(ctx, email, msg)
	if tlsErr == nil {
		return nil
	}
	return classify(fmt.Errorf("starttls: %v; implicit tls: %w", err, tlsErr))
}

// TestConnection opens a session, authenticates and disconnects without
// sending anything.
func (t *Transport) TestConnection(ctx context.Context) error {
	err := t.checkStartTLS(ctx)
	if err == nil {
		return nil
	}
	if !shouldFallback(err) {
		return classify(err)
	}

	tlsErr := t.checkImplicitTLS(ctx)
	if tlsErr == nil {
		return nil
	}
	return classify(fmt.Errorf("starttls: %v; implicit tls: %w", err, tlsErr))
}

func (t *Transport) addr() string {
	return net.JoinHostPort(t.cfg.Host, fmt.Sprintf("%d", t.cfg.Port))
}

func (t *Transport) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName: t.cfg.Host,
		MinVersion: tls.VersionTLS12,
	}
}

func (t *Transport) sendStartTLS(ctx context.Context, email *relay.OutboundEmail, msg []byte) error {
	c, err := t.connectStartTLS(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return t.submit(c, email, msg)
}

func (t *Transport) sendImplicitTLS(ctx context.Context, email *relay.OutboundEmail, msg []byte) error {
	c, err := t.connectImplicitTLS(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return t.submit(c, email, msg)
}

func (t *Transport) checkStartTLS(ctx context.Context) error {
	c, err := t.connectStartTLS(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Noop(); err != nil {
		return fmt.Errorf("noop: %w", err)
	}
	return c.Quit()
}

func (t *Transport) checkImplicitTLS(ctx context.Context) error {
	c, err := t.connectImplicitTLS(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Noop(); err != nil {
		return fmt.Errorf("noop: %w", err)
	}
	return c.Quit()
}

// connectStartTLS dials in plaintext and upgrades with STARTTLS. A server
// that does not advertise the extension is treated as a failed attempt so
// the caller falls back to implicit TLS.
func (t *Transport) connectStartTLS(ctx context.Context) (*gosmtp.Client, error) {
	dialer := &net.Dialer{Timeout: t.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr())
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := gosmtp.NewClient(conn)
	c.CommandTimeout = t.cfg.Timeout
	c.SubmissionTimeout = t.cfg.Timeout

	if err := c.Hello("smsrelay"); err != nil {
		c.Close()
		return nil, fmt.Errorf("helo: %w", err)
	}
	if ok, _ := c.Extension("STARTTLS"); !ok {
		c.Close()
		return nil, errStartTLSUnsupported
	}
	if err := c.StartTLS(t.tlsConfig()); err != nil {
		c.Close()
		return nil, fmt.Errorf("starttls: %w", err)
	}
	if err := t.auth(c); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (t *Transport) connectImplicitTLS(ctx context.Context) (*gosmtp.Client, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: t.cfg.Timeout},
		Config:    t.tlsConfig(),
	}
	conn, err := dialer.DialContext(ctx, "tcp", t.addr())
	if err != nil {
		return nil, fmt.Errorf("tls dial: %w", err)
	}

	c := gosmtp.NewClient(conn)
	c.CommandTimeout = t.cfg.Timeout
	c.SubmissionTimeout = t.cfg.Timeout

	if err := c.Hello("smsrelay"); err != nil {
		c.Close()
		return nil, fmt.Errorf("helo: %w", err)
	}
	if err := t.auth(c); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (t *Transport) auth(c *gosmtp.Client) error {
	if t.cfg.Username == "" {
		return nil
	}
	if err := c.Auth(sasl.NewPlainClient("", t.cfg.Username, t.cfg.Password)); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}

func (t *Transport) submit(c *gosmtp.Client, email *relay.OutboundEmail, msg []byte) error {
	if err := c.SendMail(email.FromAddress, []string{email.ToAddress}, bytes.NewReader(msg)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return c.Quit()
}

var errStartTLSUnsupported = errors.New("server does not support STARTTLS")

// shouldFallback reports whether an error from the STARTTLS attempt
// justifies retrying with implicit TLS. Rejections from a server we
// clearly reached and spoke to (bad credentials, bad recipient) do not.
func shouldFallback(err error) bool {
	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) {
		switch {
		case isAuthError(smtpErr), isRecipientError(smtpErr):
			return false
		}
		// Garbled replies to HELO or STARTTLS usually mean the port
		// speaks TLS from the first byte.
		return true
	}
	return true
}

func isAuthError(e *gosmtp.SMTPError) bool {
	switch e.Code {
	case 530, 534, 535:
		return true
	}
	return false
}

func isRecipientError(e *gosmtp.SMTPError) bool {
	switch e.Code {
	case 550, 551, 553:
		return true
	}
	return false
}

// classify maps transport failures onto the delivery error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) {
		switch {
		case isAuthError(smtpErr):
			return relay.NewSendError(relay.KindAuthenticationFailed, err)
		case isRecipientError(smtpErr):
			return relay.NewSendError(relay.KindInvalidRecipient, err)
		default:
			return relay.NewSendError(relay.KindSMTPError, err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return relay.NewSendError(relay.KindNetworkError, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return relay.NewSendError(relay.KindNetworkError, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return relay.NewSendError(relay.KindNetworkError, err)
	}
	if errors.Is(err, errStartTLSUnsupported) {
		return relay.NewSendError(relay.KindNetworkError, err)
	}

	return relay.NewSendError(relay.KindUnknown, err)
}
