// ABOUTME: Typed extraction of inbound messages from the platform webhook envelope
// ABOUTME: Distinguishes ignorable payloads from text messages without dynamic traversal

package webhook

import "encoding/json"

// expectedObject is the envelope object type for WhatsApp Business webhooks.
const expectedObject = "whatsapp_business_account"

// envelope mirrors the platform's webhook event structure down to the
// fields the pipeline needs. Everything else is ignored.
type envelope struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Messages []struct {
					Type string `json:"type"`
					From string `json:"from"`
					ID   string `json:"id"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// InboundMessage is one extracted text message from a webhook event.
type InboundMessage struct {
	From          string // stable sender identifier (phone number)
	Text          string
	MessageID     string // platform message id
	PhoneNumberID string // business number the reply goes out through
}

// ExtractMessage parses a raw webhook body and returns the first text
// message it contains. ok is false for payloads that should be ignored:
// malformed JSON, a different envelope object, status-only events, or
// non-text message types. Ignorable payloads are not errors; the caller
// answers them with success so the platform does not retry.
func ExtractMessage(body []byte) (InboundMessage, bool) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return InboundMessage{}, false
	}
	if env.Object != expectedObject {
		return InboundMessage{}, false
	}

	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || msg.From == "" || msg.Text.Body == "" {
					continue
				}
				return InboundMessage{
					From:          msg.From,
					Text:          msg.Text.Body,
					MessageID:     msg.ID,
					PhoneNumberID: change.Value.Metadata.PhoneNumberID,
				}, true
			}
		}
	}

	return InboundMessage{}, false
}
