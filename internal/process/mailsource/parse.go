package mailsource

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"golang.org/x/net/html/charset"

	"github.com/lueurxax/profilewatch/internal/core/domain"
	"github.com/lueurxax/profilewatch/internal/platform/htmlutils"
)

const (
	maxPartBytes     = 4 << 20
	maxMultipartNest = 8
)

var errNestedTooDeep = errors.New("multipart nesting too deep")

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.NewReaderLabel}

func parseMessage(r io.Reader) (domain.Message, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return domain.Message{}, fmt.Errorf("read message: %w", err)
	}

	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return domain.Message{}, fmt.Errorf("read body: %w", err)
	}

	plain, html, err := extractText(msg.Header, body, 0)
	if err != nil {
		return domain.Message{}, err
	}

	text := plain
	if strings.TrimSpace(text) == "" {
		text = html
	}

	return domain.Message{
		ID:      trimMessageID(msg.Header.Get("Message-Id")),
		Subject: decodeHeader(msg.Header.Get("Subject")),
		Sender:  decodeHeader(msg.Header.Get("From")),
		Body:    text,
		Date:    parseDate(msg.Header.Get("Date")),
	}, nil
}

func decodeHeader(raw string) string {
	decoded, err := wordDecoder.DecodeHeader(raw)
	if err != nil {
		decoded = raw
	}

	return strings.TrimSpace(decoded)
}

// parseDate accepts RFC 5322 dates and the sloppier formats real mailers emit.
// The zero time is returned when nothing matches.
func parseDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}

	if t, err := mail.ParseDate(raw); err == nil {
		return t
	}

	if idx := strings.Index(raw, " ("); idx > 0 {
		raw = raw[:idx]
	}

	if t, err := dateparse.ParseAny(raw); err == nil {
		return t
	}

	return time.Time{}
}

// extractText returns the first text/plain and the first text/html content
// found in the entity, the HTML already converted to text. Attachments are
// ignored.
func extractText(h mail.Header, body []byte, depth int) (plain, html string, err error) {
	mediaType, params, perr := mime.ParseMediaType(h.Get("Content-Type"))
	if perr != nil || mediaType == "" {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		if depth >= maxMultipartNest {
			return "", "", errNestedTooDeep
		}

		return extractMultipart(params["boundary"], body, depth)
	}

	if strings.Contains(strings.ToLower(h.Get("Content-Disposition")), "attachment") {
		return "", "", nil
	}

	if mediaType != "text/plain" && mediaType != "text/html" {
		return "", "", nil
	}

	decoded := decodeTransfer(h.Get("Content-Transfer-Encoding"), body)
	decoded = convertCharset(params["charset"], decoded)

	if mediaType == "text/html" {
		return "", htmlutils.ToText(string(decoded)), nil
	}

	return string(decoded), "", nil
}

func extractMultipart(boundary string, body []byte, depth int) (plain, html string, err error) {
	if boundary == "" {
		return "", "", nil
	}

	mr := multipart.NewReader(bytes.NewReader(body), boundary)

	for {
		part, perr := mr.NextRawPart()
		if perr != nil {
			break
		}

		partBody, rerr := io.ReadAll(io.LimitReader(part, maxPartBytes))
		if rerr != nil {
			break
		}

		p, h, xerr := extractText(mail.Header(part.Header), partBody, depth+1)
		if xerr != nil {
			return "", "", xerr
		}

		if plain == "" {
			plain = p
		}

		if html == "" {
			html = h
		}
	}

	return plain, html, nil
}

func decodeTransfer(encoding string, body []byte) []byte {
	var r io.Reader

	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, bytes.NewReader(stripWhitespace(body)))
	case "quoted-printable":
		r = quotedprintable.NewReader(bytes.NewReader(body))
	default:
		return body
	}

	decoded, err := io.ReadAll(io.LimitReader(r, maxPartBytes))
	if err != nil && len(decoded) == 0 {
		return body
	}

	return decoded
}

func stripWhitespace(b []byte) []byte {
	return bytes.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}

		return r
	}, b)
}

func convertCharset(label string, body []byte) []byte {
	label = strings.TrimSpace(label)
	if label == "" || strings.EqualFold(label, "utf-8") || strings.EqualFold(label, "us-ascii") {
		return body
	}

	r, err := charset.NewReaderLabel(label, bytes.NewReader(body))
	if err != nil {
		return body
	}

	converted, err := io.ReadAll(io.LimitReader(r, maxPartBytes))
	if err != nil {
		return body
	}

	return converted
}
