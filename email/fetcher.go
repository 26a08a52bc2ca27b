// Package email fetches login security codes from an inbox.lv mailbox over
// IMAP, so the two-phase login can complete without a human reading mail.
package email

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.uber.org/zap"
)

var (
	// ErrAuthFailed means the mailbox rejected the IMAP credentials.
	ErrAuthFailed = errors.New("email: imap authentication failed")
	// ErrNoMatch means no unread security-code email was found.
	ErrNoMatch = errors.New("email: no security code email found")
	// ErrNoCode means a matching email was found but no code could be
	// extracted from it.
	ErrNoCode = errors.New("email: no security code in message")
)

const (
	defaultIMAPAddr = "mail.inbox.lv:993"
	securitySubject = "Your Axiom security code"

	defaultWaitTimeout  = 2 * time.Minute
	defaultPollInterval = 5 * time.Second

	// Only mail this recent is considered; stale codes are useless anyway.
	defaultLookback = 10 * time.Minute
)

// codePattern matches the six-digit code in a subject or body.
var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

// Fetcher polls an IMAP mailbox for security-code emails. Messages are
// fetched with BODY.PEEK so the mailbox state is left untouched.
type Fetcher struct {
	addr     string
	email    string
	password string
	lookback time.Duration
	logger   *zap.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithIMAPAddr overrides the IMAP server address.
func WithIMAPAddr(addr string) FetcherOption {
	return func(f *Fetcher) { f.addr = addr }
}

// WithLookback bounds how old a matching email may be.
func WithLookback(d time.Duration) FetcherOption {
	return func(f *Fetcher) { f.lookback = d }
}

// WithFetcherLogger attaches a logger; defaults to a no-op logger.
func WithFetcherLogger(logger *zap.Logger) FetcherOption {
	return func(f *Fetcher) { f.logger = logger }
}

// NewFetcher builds a fetcher for the given mailbox credentials.
func NewFetcher(email, password string, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		addr:     defaultIMAPAddr,
		email:    email,
		password: password,
		lookback: defaultLookback,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// FromEnv builds a fetcher from INBOX_LV_EMAIL and INBOX_LV_PASSWORD. The
// second return is false when either is unset.
func FromEnv(opts ...FetcherOption) (*Fetcher, bool) {
	email := os.Getenv("INBOX_LV_EMAIL")
	password := os.Getenv("INBOX_LV_PASSWORD")
	if email == "" || password == "" {
		return nil, false
	}
	return NewFetcher(email, password, opts...), true
}

// FetchOTP makes one pass over the mailbox and returns the code from the
// newest unread security email. ErrNoMatch when nothing qualifies.
func (f *Fetcher) FetchOTP(ctx context.Context) (string, error) {
	return f.fetch(ctx, f.lookback)
}

// FetchRecent fetches like FetchOTP but only considers mail newer than
// window.
func (f *Fetcher) FetchRecent(ctx context.Context, window time.Duration) (string, error) {
	if window <= 0 {
		window = f.lookback
	}
	return f.fetch(ctx, window)
}

func (f *Fetcher) fetch(ctx context.Context, lookback time.Duration) (string, error) {
	c, err := client.DialTLS(f.addr, nil)
	if err != nil {
		return "", fmt.Errorf("email: connecting to %s: %w", f.addr, err)
	}
	defer c.Logout()

	if deadline, ok := ctx.Deadline(); ok {
		c.Timeout = time.Until(deadline)
	}

	if err := c.Login(f.email, f.password); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	if _, err := c.Select("INBOX", true); err != nil {
		return "", fmt.Errorf("email: selecting inbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Header.Add("Subject", securitySubject)
	criteria.Since = time.Now().Add(-lookback)

	ids, err := c.Search(criteria)
	if err != nil {
		return "", fmt.Errorf("email: searching inbox: %w", err)
	}
	if len(ids) == 0 {
		return "", ErrNoMatch
	}

	// Highest sequence number is the newest message.
	newest := ids[0]
	for _, id := range ids[1:] {
		if id > newest {
			newest = id
		}
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(newest)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() { done <- c.Fetch(seqset, items, messages) }()

	var code string
	for msg := range messages {
		code = extractCode(msg, section)
	}
	if err := <-done; err != nil {
		return "", fmt.Errorf("email: fetching message: %w", err)
	}
	if code == "" {
		return "", ErrNoCode
	}

	f.logger.Debug("security code retrieved", zap.Uint32("message", newest))
	return code, nil
}

// WaitForOTP polls FetchOTP until a code appears, the timeout lapses, or ctx
// is canceled. Mailbox errors other than "nothing yet" abort the wait.
func (f *Fetcher) WaitForOTP(ctx context.Context, timeout, interval time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		code, err := f.FetchOTP(ctx)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, ErrNoMatch) && !errors.Is(err, ErrNoCode) {
			return "", err
		}
		f.logger.Debug("no security code yet, polling again")

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("email: timed out waiting for security code: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// ResolveOTP implements the auth package's OTPResolver with default timing.
func (f *Fetcher) ResolveOTP(ctx context.Context) (string, error) {
	return f.WaitForOTP(ctx, defaultWaitTimeout, defaultPollInterval)
}

// extractCode pulls the six-digit code from a message, preferring the
// subject line over the body.
func extractCode(msg *imap.Message, section *imap.BodySectionName) string {
	if msg == nil {
		return ""
	}
	if msg.Envelope != nil {
		if code := findCode(msg.Envelope.Subject); code != "" {
			return code
		}
	}
	if body := msg.GetBody(section); body != nil {
		if data, err := io.ReadAll(body); err == nil {
			return findCode(string(data))
		}
	}
	return ""
}

// findCode returns the first six-digit group in text.
func findCode(text string) string {
	if text == "" {
		return ""
	}
	// Strip quoted-printable soft line breaks so codes split across lines
	// still match.
	text = strings.ReplaceAll(text, "=\r\n", "")
	text = strings.ReplaceAll(text, "=\n", "")

	m := codePattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}
