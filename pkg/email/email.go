package email

import (
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"time"
)

// Client sends plain-text mail through an authenticated SMTP relay.
type Client struct {
	Server   string
	Port     int
	Username string
	Password string
	FromName string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func New(server string, port int, username, password, fromName string) *Client {
	return &Client{
		Server:   server,
		Port:     port,
		Username: username,
		Password: password,
		FromName: fromName,
		send:     smtp.SendMail,
	}
}

// Message builds the RFC 5322 message. Subject and display name are
// Q-encoded so non-ASCII names survive.
func (c *Client) Message(to, subject, body string, sentAt time.Time) []byte {
	from := c.Username
	if c.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", c.FromName), c.Username)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", sentAt.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

func (c *Client) Send(to, subject, body string) error {
	if !strings.Contains(to, "@") {
		return fmt.Errorf("invalid email address: %s", to)
	}
	if c.Server == "" || c.Port == 0 || c.Username == "" {
		return fmt.Errorf("missing SMTP configuration")
	}

	auth := smtp.PlainAuth("", c.Username, c.Password, c.Server)
	addr := fmt.Sprintf("%s:%d", c.Server, c.Port)
	if err := c.send(addr, auth, c.Username, []string{to}, c.Message(to, subject, body, time.Now())); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}
	return nil
}
