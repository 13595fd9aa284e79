package mailparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamiequint/groundeffect/internal/imapclient"
)

const plainMessage = "From: Alice <alice@example.com>\r\n" +
	"To: Bob <bob@example.com>\r\n" +
	"Subject: Hello there\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
	"Message-Id: <root@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hi Bob,\r\nHow are you?\r\n"

const replyMessage = "From: Bob <bob@example.com>\r\n" +
	"To: Alice <alice@example.com>\r\n" +
	"Subject: Re: Hello there\r\n" +
	"Date: Tue, 03 Jan 2006 09:00:00 -0700\r\n" +
	"Message-Id: <reply@example.com>\r\n" +
	"In-Reply-To: <root@example.com>\r\n" +
	"References: <root@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Doing well, thanks!\r\n"

const multipartMessage = "From: Alice <alice@example.com>\r\n" +
	"To: Bob <bob@example.com>\r\n" +
	"Subject: With attachment\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
	"Message-Id: <att@example.com>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=BOUNDARY\r\n" +
	"\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"Body text here.\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/plain; name=notes.txt\r\n" +
	"Content-Disposition: attachment; filename=notes.txt\r\n" +
	"\r\n" +
	"attachment contents\r\n" +
	"--BOUNDARY--\r\n"

func rawMessage(body string) imapclient.RawMessage {
	return imapclient.RawMessage{
		Envelope: imapclient.Envelope{UID: 1, UIDValidity: 1, InternalDate: time.Now()},
		RFC822:   []byte(body),
	}
}

func TestParseExtractsHeadersAndBody(t *testing.T) {
	m, err := Parse("alice@example.com", "INBOX", rawMessage(plainMessage))
	require.NoError(t, err)
	assert.Equal(t, "Hello there", m.Subject)
	assert.Equal(t, "alice@example.com", m.From.Email)
	assert.Equal(t, "Alice", m.From.Name)
	require.Len(t, m.To, 1)
	assert.Equal(t, "bob@example.com", m.To[0].Email)
	assert.Equal(t, "root@example.com", m.MessageID)
	assert.Contains(t, m.BodyText, "How are you?")
}

func TestParseExtractsThreadingHeaders(t *testing.T) {
	m, err := Parse("alice@example.com", "INBOX", rawMessage(replyMessage))
	require.NoError(t, err)
	assert.Equal(t, "root@example.com", m.InReplyTo)
	assert.Equal(t, []string{"root@example.com"}, m.References)
}

func TestParseExtractsAttachmentMetadata(t *testing.T) {
	m, err := Parse("alice@example.com", "INBOX", rawMessage(multipartMessage))
	require.NoError(t, err)
	assert.Contains(t, m.BodyText, "Body text here.")
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "notes.txt", m.Attachments[0].Filename)
	assert.NotEmpty(t, m.Attachments[0].ID)
}

func TestParseTruncatesSnippet(t *testing.T) {
	long := make([]byte, 0, 400)
	for i := 0; i < 400; i++ {
		long = append(long, 'a')
	}
	body := "From: a@example.com\r\nSubject: long\r\nDate: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
		"Content-Type: text/plain\r\n\r\n" + string(long) + "\r\n"
	m, err := Parse("alice@example.com", "INBOX", rawMessage(body))
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(m.Snippet)), snippetLen+1)
}
