package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventMessagesUpsert is the only gateway event that carries a chat message.
const EventMessagesUpsert = "messages.upsert"

// Event is an inbound gateway callback. Data is decoded only for message events.
type Event struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

// MessageData is the data section of a messages.upsert event.
type MessageData struct {
	Key struct {
		RemoteJid string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName string `json:"pushName"`
	Message  *struct {
		Conversation        string `json:"conversation"`
		ExtendedTextMessage *struct {
			Text string `json:"text"`
		} `json:"extendedTextMessage"`
	} `json:"message"`
}

// ParseEvent decodes a raw webhook body.
func ParseEvent(body []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return Event{}, fmt.Errorf("decode webhook payload: %w", err)
	}
	return evt, nil
}

// MessageData decodes the message section of the event.
func (e Event) MessageData() (MessageData, error) {
	var data MessageData
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return data, nil
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return MessageData{}, fmt.Errorf("decode message data: %w", err)
	}
	return data, nil
}

// Text returns the plain or extended text body.
func (d MessageData) Text() string {
	if d.Message == nil {
		return ""
	}
	if d.Message.Conversation != "" {
		return d.Message.Conversation
	}
	if d.Message.ExtendedTextMessage != nil {
		return d.Message.ExtendedTextMessage.Text
	}
	return ""
}

// ContactID strips the domain from remoteJid ("5511999999999@s.whatsapp.net").
func (d MessageData) ContactID() string {
	jid := d.Key.RemoteJid
	if i := strings.Index(jid, "@"); i >= 0 {
		return jid[:i]
	}
	return jid
}
