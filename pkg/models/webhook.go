package models

// WebhookPayload represents the incoming JSON payload from WhatsApp
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Value ChangeValue `json:"value"`
	Field string      `json:"field"`
}

type ChangeValue struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []WebhookContact  `json:"contacts,omitempty"`
	Messages []IncomingMessage `json:"messages,omitempty"`
	Statuses []struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		Timestamp   string `json:"timestamp"`
		RecipientId string `json:"recipient_id"`
	} `json:"statuses,omitempty"`
}

// WebhookContact carries the sender's WhatsApp profile name
type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type IncomingMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image       *MediaMessage       `json:"image,omitempty"`
	Video       *MediaMessage       `json:"video,omitempty"`
	Audio       *MediaMessage       `json:"audio,omitempty"`
	Document    *MediaMessage       `json:"document,omitempty"`
	Interactive *InteractiveMessage `json:"interactive,omitempty"`
	Type        string              `json:"type"`
}

// MediaMessage represents a media attachment in a WhatsApp message
type MediaMessage struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// InteractiveMessage represents an interactive message response (buttons, lists)
type InteractiveMessage struct {
	Type        string       `json:"type"`
	ButtonReply *ButtonReply `json:"button_reply,omitempty"`
	ListReply   *ListReply   `json:"list_reply,omitempty"`
}

type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type ListReply struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ProfileName returns the profile name the payload carries for waID.
func (v ChangeValue) ProfileName(waID string) string {
	for _, c := range v.Contacts {
		if c.WaID == waID {
			return c.Profile.Name
		}
	}
	return ""
}

// Content flattens a message into the text stored in the conversation.
// Media is kept as a "[type]:id[:caption]" placeholder.
func (m IncomingMessage) Content() string {
	switch m.Type {
	case "text":
		return m.Text.Body
	case "image":
		return mediaContent("image", m.Image)
	case "video":
		return mediaContent("video", m.Video)
	case "audio":
		return mediaContent("audio", m.Audio)
	case "document":
		if m.Document != nil && m.Document.Filename != "" {
			return "[document]:" + m.Document.ID + ":" + m.Document.Filename
		}
		return mediaContent("document", m.Document)
	case "interactive":
		if m.Interactive != nil {
			if m.Interactive.ButtonReply != nil {
				return m.Interactive.ButtonReply.Title
			}
			if m.Interactive.ListReply != nil {
				return m.Interactive.ListReply.Title
			}
		}
	}
	return "[" + m.Type + "]"
}

func mediaContent(kind string, media *MediaMessage) string {
	if media == nil {
		return "[" + kind + "]"
	}
	content := "[" + kind + "]:" + media.ID
	if media.Caption != "" {
		content += ":" + media.Caption
	}
	return content
}
