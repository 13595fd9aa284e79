// Package mailparse turns a fetched RFC 5322 message into a models.MailItem,
// extracting headers, a plain-text body (falling back to HTML→text), and
// attachment metadata.
//
// Grounded on the kanocz-telegram-ai-bot IMAP tool's message-reading code:
// mail.CreateReader plus a NextPart loop switching on *mail.InlineHeader vs
// *mail.AttachmentHeader is reused verbatim in shape.
package mailparse

import (
	"bytes"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-message/mail"

	// Registers non-UTF-8 charset decoders (windows-1252, iso-8859-*, etc.)
	// so mail.CreateReader can read headers/bodies encoded by older MUAs.
	_ "github.com/emersion/go-message/charset"

	"github.com/jamiequint/groundeffect/internal/htmltotext"
	"github.com/jamiequint/groundeffect/internal/ids"
	"github.com/jamiequint/groundeffect/internal/imapclient"
	"github.com/jamiequint/groundeffect/internal/models"
)

const snippetLen = 200

// Parse implements sync.MessageParser, building a models.MailItem from one
// fetched RFC822 body. UID, UIDValidity and flags come from the envelope,
// since IMAP's own bookkeeping is authoritative for those fields. Date comes
// from the message's Date header; the envelope's internal date is used only
// when that header is missing or unparsable.
func Parse(accountID, folder string, raw imapclient.RawMessage) (models.MailItem, error) {
	m := models.MailItem{
		AccountID:   accountID,
		Folder:      folder,
		UID:         raw.UID,
		UIDValidity: raw.UIDValidity,
		RawSize:     int64(len(raw.RFC822)),
		Flags:       flagStrings(raw.Flags),
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw.RFC822))
	if err != nil {
		return models.MailItem{}, models.Poison("parse rfc822 message", err)
	}

	if date, derr := mr.Header.Date(); derr == nil {
		m.Date = date
	} else {
		m.Date = raw.InternalDate
	}
	if from, aerr := mr.Header.AddressList("From"); aerr == nil && len(from) > 0 {
		m.From = models.Address{Name: from[0].Name, Email: from[0].Address}
	}
	if to, aerr := mr.Header.AddressList("To"); aerr == nil {
		m.To = addressList(to)
	}
	if cc, aerr := mr.Header.AddressList("Cc"); aerr == nil {
		m.Cc = addressList(cc)
	}
	if bcc, aerr := mr.Header.AddressList("Bcc"); aerr == nil {
		m.Bcc = addressList(bcc)
	}
	if subject, serr := mr.Header.Subject(); serr == nil {
		m.Subject = subject
	}
	m.MessageID = strings.Trim(mr.Header.Get("Message-Id"), "<> \t")
	m.InReplyTo = strings.Trim(mr.Header.Get("In-Reply-To"), "<> \t")
	m.References = parseReferences(mr.Header.Get("References"))

	var plainText, htmlText string
	attachmentIndex := 0
	for {
		part, perr := mr.NextPart()
		if perr == io.EOF {
			break
		}
		if perr != nil {
			break
		}
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := mime.ParseMediaType(h.Get("Content-Type"))
			body, rerr := io.ReadAll(part.Body)
			if rerr != nil {
				continue
			}
			if contentType == "text/html" {
				htmlText = string(body)
			} else {
				plainText = string(body)
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := mime.ParseMediaType(h.Get("Content-Type"))
			body, rerr := io.ReadAll(part.Body)
			size := int64(0)
			if rerr == nil {
				size = int64(len(body))
			}
			m.Attachments = append(m.Attachments, models.Attachment{
				ID:        ids.AttachmentID(attachmentIndex, filename),
				Filename:  filename,
				MIMEType:  contentType,
				Size:      size,
				ContentID: strings.Trim(h.Get("Content-Id"), "<> \t"),
			})
			attachmentIndex++
		}
	}

	m.BodyText = plainText
	m.BodyHTML = htmlText
	if m.BodyText == "" && htmlText != "" {
		if text, terr := htmltotext.Extract(htmlText); terr == nil {
			m.BodyText = text
		}
	}
	m.Snippet = snippet(m.BodyText)

	return m, nil
}

// ExtractAttachment re-walks raw looking for the attachment part whose
// deterministic id (see ids.AttachmentID) matches attachmentID, returning
// its filename, MIME type, and full decoded body. Used by get_attachment's
// lazy fetch path: the store only ever keeps attachment metadata, never the
// bytes, so a download re-parses the same raw message Parse already saw.
func ExtractAttachment(raw []byte, attachmentID string) (filename, mimeType string, data []byte, err error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return "", "", nil, models.Poison("parse rfc822 message", err)
	}
	index := 0
	for {
		part, perr := mr.NextPart()
		if perr == io.EOF {
			break
		}
		if perr != nil {
			break
		}
		h, ok := part.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}
		name, _ := h.Filename()
		id := ids.AttachmentID(index, name)
		index++
		if id != attachmentID {
			continue
		}
		contentType, _, _ := mime.ParseMediaType(h.Get("Content-Type"))
		body, rerr := io.ReadAll(part.Body)
		if rerr != nil {
			return "", "", nil, models.Fatal("read attachment body", rerr)
		}
		return name, contentType, body, nil
	}
	return "", "", nil, models.NotFound("attachment not found: "+attachmentID, nil)
}

func addressList(addrs []*mail.Address) []models.Address {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]models.Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, models.Address{Name: a.Name, Email: a.Address})
	}
	return out
}

func parseReferences(header string) []string {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	fields := strings.Fields(header)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.Trim(f, "<> \t"))
	}
	return out
}

func flagStrings(flags []imap.Flag) []string {
	if len(flags) == 0 {
		return nil
	}
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = string(f)
	}
	return out
}

func snippet(body string) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= snippetLen {
		return body
	}
	return strings.TrimSpace(string(runes[:snippetLen])) + "…"
}
