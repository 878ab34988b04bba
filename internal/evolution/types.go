package evolution

// ConnectionStateResponse is the gateway's instance status payload.
type ConnectionStateResponse struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		InstanceID   string `json:"instanceId"`
		State        string `json:"state"`
		Wid          string `json:"wid"`
	} `json:"instance"`
}

type sendOptions struct {
	Delay    int    `json:"delay"`
	Presence string `json:"presence"`
}

type sendTextRequest struct {
	Number  string      `json:"number"`
	Text    string      `json:"text"`
	Options sendOptions `json:"options"`
}

type sendMediaRequest struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
}

// SendResponse acknowledges a message send with the gateway's message key.
type SendResponse struct {
	Key struct {
		ID        string `json:"id"`
		RemoteJid string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
	} `json:"key"`
	Status string `json:"status"`
}

// ConnectResponse carries pairing material. Base64 is a data-URL QR image;
// Code is a phone-pairing code. Either can be empty.
type ConnectResponse struct {
	PairingCode string `json:"pairingCode"`
	Code        string `json:"code"`
	Base64      string `json:"base64"`
	Count       int    `json:"count"`
}

type webhookConfigRequest struct {
	Enabled bool              `json:"enabled"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Events  []string          `json:"events"`
}

// WebhookEvent is the gateway's webhook envelope. Data is shape-shifting
// across event types, so only the fields the normalizer reads are typed.
type WebhookEvent struct {
	Event    string           `json:"event"`
	Instance string           `json:"instance"`
	Data     WebhookEventData `json:"data"`
	Sender   string           `json:"sender"`
	DateTime string           `json:"date_time"`
}

type WebhookEventData struct {
	// connection.update
	State      string `json:"state"`
	StatusCode int    `json:"statusCode"`
	Wid        string `json:"wid"`

	// messages.upsert
	Key struct {
		RemoteJid string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName         string          `json:"pushName"`
	Message          *MessageContent `json:"message"`
	MessageType      string          `json:"messageType"`
	MessageTimestamp int64           `json:"messageTimestamp"`

	// legacy revisions put the sender at data.from
	From       string `json:"from"`
	SenderName string `json:"senderName"`
}

// MessageContent mirrors the subset of the gateway message body the bridge
// relays.
type MessageContent struct {
	Conversation string `json:"conversation"`
	ExtendedText *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
	Image    *MediaContent `json:"imageMessage"`
	Video    *MediaContent `json:"videoMessage"`
	Audio    *MediaContent `json:"audioMessage"`
	Document *MediaContent `json:"documentMessage"`
	Sticker  *MediaContent `json:"stickerMessage"`
}

type MediaContent struct {
	URL      string `json:"url"`
	Mimetype string `json:"mimetype"`
	Caption  string `json:"caption"`
	FileName string `json:"fileName"`
}
