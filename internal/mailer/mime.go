package mailer

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"mime"
	"strings"
	"time"
)

func formatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", name), addr)
}

func newMessageID(domain string) string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return fmt.Sprintf("<%s@%s>", hex.EncodeToString(b), domain)
}

func randomBoundary() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return "alt-" + hex.EncodeToString(b)
}

// writeBodyPart emits the content headers and payload for one part,
// terminating the payload with CRLF when it lacks a trailing newline.
func writeBodyPart(b *strings.Builder, contentType, body string) {
	fmt.Fprintf(b, "Content-Type: %s; charset=UTF-8\r\n", contentType)
	b.WriteString("Content-Transfer-Encoding: 7bit\r\n\r\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\r\n")
	}
}

func buildMIMEMessage(e Email, messageIDDomain string) (string, error) {
	switch {
	case len(e.To) == 0:
		return "", fmt.Errorf("mailer: at least one recipient required")
	case e.From == "":
		return "", fmt.Errorf("mailer: from address required")
	case e.Subject == "":
		return "", fmt.Errorf("mailer: subject required")
	case e.TextBody == "" && e.HTMLBody == "":
		return "", fmt.Errorf("mailer: textBody or htmlBody required")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", newMessageID(messageIDDomain))
	fmt.Fprintf(&b, "From: %s\r\n", formatAddress(e.FromName, e.From))
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.To, ", "))
	if len(e.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(e.Cc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", e.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	for k, v := range e.Headers {
		if k == "" || v == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}

	switch {
	case e.TextBody != "" && e.HTMLBody != "":
		boundary := randomBoundary()
		fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)
		fmt.Fprintf(&b, "--%s\r\n", boundary)
		writeBodyPart(&b, "text/plain", e.TextBody)
		fmt.Fprintf(&b, "--%s\r\n", boundary)
		writeBodyPart(&b, "text/html", e.HTMLBody)
		fmt.Fprintf(&b, "--%s--\r\n", boundary)
	case e.HTMLBody != "":
		writeBodyPart(&b, "text/html", e.HTMLBody)
	default:
		writeBodyPart(&b, "text/plain", e.TextBody)
	}
	return b.String(), nil
}
