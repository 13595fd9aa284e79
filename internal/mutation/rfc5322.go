package mutation

import (
	"fmt"
	"strings"
	"time"

	"github.com/jamiequint/groundeffect/internal/ids"
)

// BuildRFC5322 renders req as a single-part RFC 5322 text/plain message.
// Kept on the standard library: the engine's only other MIME-adjacent
// dependency (go-message) is a parser the pack teacher uses for reading
// fetched mail, not composing it, and send_mail's single-part plain-text
// body needs nothing beyond a header block and CRLF line endings.
func BuildRFC5322(req SendMailRequest) []byte {
	var b strings.Builder

	subject := req.Subject
	if req.ReplyToMessageID != "" && !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	fmt.Fprintf(&b, "From: %s\r\n", req.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(req.To, ", "))
	if len(req.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(req.Cc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@groundeffect>\r\n", ids.New())
	if req.ReplyToMessageID != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", req.ReplyToMessageID)
		refs := append(append([]string{}, req.References...), req.ReplyToMessageID)
		fmt.Fprintf(&b, "References: %s\r\n", strings.Join(refs, " "))
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(req.Body)

	return []byte(b.String())
}
