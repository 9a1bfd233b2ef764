package pipeline

import "net/http"

// State is a step of the pipeline; the Ack reports the last one reached.
type State string

const (
	StateReceived             State = "received"
	StateAgentResolved        State = "agent_resolved"
	StateConversationResolved State = "conversation_resolved"
	StateInboundSaved         State = "inbound_saved"
	StateQuotaChecked         State = "quota_checked"
	StateHistoryFetched       State = "history_fetched"
	StateCompletionCalled     State = "completion_called"
	StateOutboundSaved        State = "outbound_saved"
	StateCredentialsDecrypted State = "credentials_decrypted"
	StateRelayed              State = "relayed"
	StatePatched              State = "patched"
	StateSkippedDueToQuota    State = "skipped_due_to_quota"
)

// Ack is the HTTP acknowledgment for one delivery.
type Ack struct {
	Status int
	State  State
	// Sent is true only for acknowledged_sent outcomes.
	Sent bool
	Body map[string]any
}

// Terminal returns acknowledged_sent or acknowledged_not_sent.
func (a Ack) Terminal() string {
	if a.Sent {
		return "acknowledged_sent"
	}
	return "acknowledged_not_sent"
}

func ack(state State, body map[string]any) Ack {
	body["state"] = string(state)
	return Ack{Status: http.StatusOK, State: state, Body: body}
}

func failure(status int, state State, msg string) Ack {
	return Ack{Status: status, State: state, Body: map[string]any{"error": msg, "state": string(state)}}
}
