package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clinic-inbox/internal/config"
	"clinic-inbox/internal/logger"
)

// Client talks to the WhatsApp Cloud API. It implements inbox.Dispatcher.
type Client struct {
	Config     *config.Config
	HTTPClient *http.Client
	log        *logger.Logger
}

func NewClient(cfg *config.Config, log *logger.Logger) *Client {
	return &Client{
		Config:     cfg,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		log:        log.With("component", "whatsapp"),
	}
}

// --- Message Structures ---

type GenericMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	RecipientType    string   `json:"recipient_type,omitempty"`
	Text             *TextObj `json:"text,omitempty"`
}

type TextObj struct {
	Body       string `json:"body"`
	PreviewUrl bool   `json:"preview_url,omitempty"`
}

type SendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// --- Helper Functions ---

func (c *Client) sendRequest(ctx context.Context, method, url string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.Config.WhatsAppToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return respBody, fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
	}

	return respBody, nil
}

// --- Messaging Methods ---

func (c *Client) SendRawMessage(ctx context.Context, msg GenericMessage) (*SendResponse, error) {
	url := fmt.Sprintf("%s/%s/messages", strings.TrimRight(c.Config.GraphBaseURL, "/"), c.Config.PhoneNumberID)
	raw, err := c.sendRequest(ctx, http.MethodPost, url, msg)
	if err != nil {
		return nil, err
	}
	var out SendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode send response: %w", err)
	}
	return &out, nil
}

// SendText sends a plain text message. to may be a phone number or a JID.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               PhoneFromJID(to),
		Type:             "text",
		Text: &TextObj{
			Body: body,
		},
	}
	resp, err := c.SendRawMessage(ctx, msg)
	if err != nil {
		return err
	}
	if len(resp.Messages) > 0 {
		c.log.Debug("message accepted", "to", msg.To, "wa_message_id", resp.Messages[0].ID)
	}
	return nil
}

// LogSender stands in for the Cloud API when no credentials are configured.
type LogSender struct {
	log *logger.Logger
}

func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{log: log.With("component", "whatsapp")}
}

func (s *LogSender) SendText(_ context.Context, to, body string) error {
	s.log.Info("whatsapp disabled, message not delivered", "to", to, "length", len(body))
	return nil
}

const userServer = "s.whatsapp.net"

// PhoneFromJID strips the server part of a JID ("5511999@s.whatsapp.net").
func PhoneFromJID(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}

// JIDFromPhone builds the user JID for a Cloud API "from" number.
func JIDFromPhone(phone string) string {
	phone = strings.TrimPrefix(strings.TrimSpace(phone), "+")
	if strings.Contains(phone, "@") {
		return phone
	}
	return phone + "@" + userServer
}
