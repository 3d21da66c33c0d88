package mailer

import (
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
)

func (m Message) validate() error {
	switch {
	case m.From == "":
		return errors.New("mailer: from address required")
	case len(m.To) == 0:
		return errors.New("mailer: at least one recipient required")
	case m.Subject == "":
		return errors.New("mailer: subject required")
	}
	return nil
}

// render builds an RFC 5322 text/plain message with CRLF line endings.
func (m Message) render(domain string, now time.Time) (string, error) {
	if err := m.validate(); err != nil {
		return "", err
	}

	var b strings.Builder
	header := func(k, v string) {
		// header injection guard
		v = strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}

	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domain))
	header("From", m.From)
	header("To", strings.Join(m.To, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=UTF-8")
	header("Content-Transfer-Encoding", "8bit")
	for k, v := range m.Headers {
		if k != "" && v != "" {
			header(k, v)
		}
	}
	b.WriteString("\r\n")

	body := strings.ReplaceAll(m.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\r\n")
	}
	return b.String(), nil
}
