package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// MediaPlaceholder is sent as texto when a file is attached.
const MediaPlaceholder = "[[ARCHIVO_MULTIMEDIA]]"

const defaultDisplayName = "Contacto"

type MessageKind int

const (
	KindText MessageKind = iota
	KindAudio
	KindImage
	KindDocument
)

// InboundRecord is one normalized incoming message, ready for the webhook.
type InboundRecord struct {
	Instance    string
	Sender      string
	DisplayName string
	Kind        MessageKind

	Text string

	Media    []byte
	Filename string
	MimeType string
}

// textPayload is the JSON body sent for text messages.
type textPayload struct {
	Instance string `json:"instance"`
	Sender   string `json:"sender"`
	Nombre   string `json:"nombre"`
	Texto    string `json:"texto"`
}

// Relay forwards incoming messages to the configured webhook, at most once.
type Relay struct {
	webhookURL string
	instance   string
	http       *http.Client
	log        waLog.Logger
}

func NewRelay(webhookURL, instance string, timeout time.Duration, log waLog.Logger) *Relay {
	return &Relay{
		webhookURL: webhookURL,
		instance:   instance,
		http:       &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Handle forwards evt in the background; the caller is never blocked and
// never told about failures.
func (r *Relay) Handle(dl MediaDownloader, evt *events.Message) {
	safeGo(r.log, "relay", func() {
		if err := r.Forward(context.Background(), dl, evt); err != nil {
			r.log.Errorf("❌ Relay failed for %s: %v", evt.Info.ID, err)
		}
	})
}

// Forward normalizes evt and posts it. Ignored events return nil.
func (r *Relay) Forward(ctx context.Context, dl MediaDownloader, evt *events.Message) error {
	rec, err := r.Normalize(ctx, dl, evt)
	if err != nil || rec == nil {
		return err
	}
	return r.Deliver(ctx, rec)
}

// Normalize turns a raw message event into an InboundRecord. It returns nil
// for self-sent messages and for payloads that are neither text nor
// audio/image/document. A failed media download drops the event.
func (r *Relay) Normalize(ctx context.Context, dl MediaDownloader, evt *events.Message) (*InboundRecord, error) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe {
		return nil, nil
	}
	m := evt.Message

	rec := &InboundRecord{
		Instance:    r.instance,
		Sender:      evt.Info.Chat.String(),
		DisplayName: evt.Info.PushName,
	}
	if rec.DisplayName == "" {
		rec.DisplayName = defaultDisplayName
	}

	var media whatsmeow.DownloadableMessage
	switch {
	case m.GetAudioMessage() != nil:
		media = m.GetAudioMessage()
		rec.Kind, rec.Filename, rec.MimeType = KindAudio, "audio.ogg", "audio/ogg"
	case m.GetImageMessage() != nil:
		media = m.GetImageMessage()
		rec.Kind, rec.Filename, rec.MimeType = KindImage, "imagen.jpg", "image/jpeg"
	case m.GetDocumentMessage() != nil:
		doc := m.GetDocumentMessage()
		media = doc
		rec.Kind, rec.Filename, rec.MimeType = KindDocument, doc.GetFileName(), doc.GetMimetype()
		if rec.Filename == "" {
			rec.Filename = "documento.pdf"
		}
		if rec.MimeType == "" {
			rec.MimeType = "application/pdf"
		}
	default:
		text := extractTextContent(m)
		if text == "" {
			return nil, nil
		}
		rec.Kind, rec.Text = KindText, text
		return rec, nil
	}

	data, err := dl.Download(ctx, media)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	rec.Media = data
	rec.Text = MediaPlaceholder
	return rec, nil
}

// Deliver posts rec to the webhook: JSON for text, multipart for media.
func (r *Relay) Deliver(ctx context.Context, rec *InboundRecord) error {
	var (
		body        io.Reader
		contentType string
	)
	if rec.Kind == KindText {
		b, err := json.Marshal(textPayload{
			Instance: rec.Instance,
			Sender:   rec.Sender,
			Nombre:   rec.DisplayName,
			Texto:    rec.Text,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body, contentType = bytes.NewReader(b), "application/json"
	} else {
		buf, ct, err := multipartBody(rec)
		if err != nil {
			return err
		}
		body, contentType = buf, ct
	}

	deliveryID := uuid.NewString()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.webhookURL, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Delivery-Id", deliveryID)

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d (delivery %s)", resp.StatusCode, deliveryID)
	}
	r.log.Infof("📨 Forwarded message from %s (delivery %s)", rec.Sender, deliveryID)
	return nil
}

func multipartBody(rec *InboundRecord) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for _, field := range [][2]string{
		{"instance", rec.Instance},
		{"sender", rec.Sender},
		{"nombre", rec.DisplayName},
	} {
		if err := w.WriteField(field[0], field[1]); err != nil {
			return nil, "", err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(rec.Filename)))
	h.Set("Content-Type", rec.MimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(rec.Media); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("texto", rec.Text); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// Extract text content from WhatsApp message
func extractTextContent(message *waE2E.Message) string {
	if message == nil {
		return ""
	}
	if text := message.GetConversation(); text != "" {
		return text
	}
	return message.GetExtendedTextMessage().GetText()
}
