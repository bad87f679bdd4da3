package confirm

import (
	"context"
	"fmt"
)

// HelpText is the reply to an unrecognized chat message.
const HelpText = "Reply DONE (or YES, OK, 👍) after giving the medication to mark the oldest pending reminder as given."

// NothingPendingText is the reply when a confirmation arrives with nothing pending.
const NothingPendingText = "Nothing pending right now."

// AlreadyHandledText is the reply when another confirmation took the
// reminder first.
const AlreadyHandledText = "Already marked as given."

// UnavailableText is the reply when the pending set cannot be read or written.
const UnavailableText = "Sorry, I couldn't record that right now. Please try again in a minute."

// ReplyText renders the chat response for a confirmation result.
func ReplyText(res Result) string {
	switch {
	case res.Confirmed:
		return fmt.Sprintf("✅ %s confirmed. %d still pending.", res.MedicationName, res.Remaining)
	case res.Reason == ReasonNothingPending:
		return NothingPendingText
	case res.Reason == ReasonNotFound:
		return AlreadyHandledText
	default:
		return UnavailableText
	}
}

// HandleReply classifies text and, when it is a confirmation, confirms the
// oldest pending reminder. It returns the text to send back.
func (r *Resolver) HandleReply(ctx context.Context, text string) string {
	if !ClassifyInboundText(text) {
		return HelpText
	}
	return ReplyText(r.ConfirmOldest(ctx))
}
