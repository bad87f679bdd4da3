package api

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/medreminder/internal/notify"
)

// ReplyHandler turns an inbound chat message into the text sent back.
type ReplyHandler interface {
	HandleReply(ctx context.Context, text string) string
}

// WebhookHandler receives caregiver replies from chat channels.
type WebhookHandler struct {
	replies     ReplyHandler
	messenger   notify.Sender
	verifyToken string
	logger      *zap.Logger
}

// NewWebhookHandler creates a webhook handler. messenger may be nil when
// the Messenger channel is not configured.
func NewWebhookHandler(replies ReplyHandler, messenger notify.Sender, verifyToken string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		replies:     replies,
		messenger:   messenger,
		verifyToken: verifyToken,
		logger:      logger,
	}
}

type twiml struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message"`
}

// WhatsApp handles POST /webhooks/whatsapp. Twilio posts the inbound
// message as a form and sends the TwiML reply back to the sender.
func (h *WebhookHandler) WhatsApp(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed form body", err.Error())
		return
	}

	text := r.PostForm.Get("Body")
	reply := h.replies.HandleReply(r.Context(), text)

	h.logger.Info("whatsapp reply handled",
		zap.String("message_sid", r.PostForm.Get("MessageSid")),
		zap.Int("text_length", len(text)),
	)

	out, err := xml.Marshal(twiml{Message: reply})
	if err != nil {
		h.logger.Error("failed to render twiml", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to render reply", "")
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	w.Write(out)
}

// MessengerVerify handles GET /webhooks/messenger, the subscription
// handshake Facebook performs when the webhook is registered.
func (h *WebhookHandler) MessengerVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.verifyToken == "" || q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != h.verifyToken {
		writeError(w, http.StatusForbidden, "forbidden", "Verification failed", "hub.verify_token does not match")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(q.Get("hub.challenge")))
}

type messengerEvent struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Message *struct {
				Text   string `json:"text"`
				IsEcho bool   `json:"is_echo"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

// MessengerReceive handles POST /webhooks/messenger. Every text message is
// answered through the Send API; Facebook only needs a fast 200.
func (h *WebhookHandler) MessengerReceive(w http.ResponseWriter, r *http.Request) {
	var ev messengerEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if ev.Object != "page" {
		writeError(w, http.StatusNotFound, "not_found", "Unsupported object", ev.Object)
		return
	}

	for _, entry := range ev.Entry {
		for _, m := range entry.Messaging {
			if m.Message == nil || m.Message.IsEcho || m.Sender.ID == "" {
				continue
			}
			reply := h.replies.HandleReply(r.Context(), m.Message.Text)
			h.respond(r.Context(), m.Sender.ID, reply)
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("EVENT_RECEIVED"))
}

func (h *WebhookHandler) respond(ctx context.Context, psid, text string) {
	if h.messenger == nil {
		h.logger.Warn("messenger reply dropped, sender not configured")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	to := notify.Recipient{Channel: notify.ChannelMessenger, Address: psid}
	if _, err := h.messenger.Send(ctx, to, notify.Message{Body: text}); err != nil {
		h.logger.Error("failed to send messenger reply",
			zap.String("recipient", to.String()),
			zap.Error(err),
		)
	}
}
