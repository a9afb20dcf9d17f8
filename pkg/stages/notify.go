package stages

import (
	"fmt"

	"github.com/kiranamart/mandi/pkg/models"
)

// Notice outcomes. The engine derives one from the run's accumulated outputs
// and the notification stage renders it in the detected language.
const (
	OutcomeOrderPlaced      = "order_placed"
	OutcomeBlocked          = "blocked"
	OutcomeOrderFailed      = "order_failed"
	OutcomeNoSuitableOption = "no_suitable_option"
	OutcomeDeclined         = "declined"
	OutcomeInfo             = "info"
	OutcomeClarify          = "clarify"
	OutcomeError            = "error"
)

// NoticeInput is everything the templates can draw from. Only the fields
// relevant to the outcome need to be set.
type NoticeInput struct {
	Outcome     string
	LanguageTag string
	Intent      *models.Intent
	Decision    *models.Decision
	Purchase    *models.PurchaseResult
	Info        *models.InfoAnswer
	// FailureKind colors the error template ("stage_timeout", ...).
	FailureKind models.ErrorKind
}

// RenderNotice renders the user-facing message for a finished run. Hinglish
// when the utterance was tagged hi-en, English otherwise. Never fails: an
// unknown outcome renders as a generic error.
func RenderNotice(in NoticeInput) *models.Notice {
	lang := in.LanguageTag
	if lang == "" && in.Intent != nil {
		lang = in.Intent.LanguageTag
	}
	if lang == "" {
		lang = "en"
	}
	hi := lang == "hi-en"

	var msg string
	switch in.Outcome {
	case OutcomeOrderPlaced:
		msg = renderOrderPlaced(in, hi)
	case OutcomeBlocked:
		msg = renderBlocked(in, hi)
	case OutcomeOrderFailed:
		msg = renderFailed(in, hi)
	case OutcomeNoSuitableOption:
		if hi {
			msg = "Abhi koi accha option nahi mila. Thodi der baad phir try karoon?"
		} else {
			msg = "No good option found right now. Want me to try again later?"
		}
	case OutcomeDeclined:
		if hi {
			msg = "Theek hai, order cancel kar diya. Kuch aur chahiye?"
		} else {
			msg = "Okay, order cancelled. Anything else?"
		}
	case OutcomeInfo:
		if in.Info != nil {
			msg = in.Info.Answer
		} else if hi {
			msg = "Iska jawab abhi nahi mila."
		} else {
			msg = "I could not find an answer to that."
		}
	case OutcomeClarify:
		if in.Intent != nil && in.Intent.Clarification != "" {
			msg = in.Intent.Clarification
		} else if hi {
			msg = "Kya aap thoda aur bata sakte hain?"
		} else {
			msg = "Could you tell me a bit more?"
		}
	default:
		kind := string(in.FailureKind)
		if kind == "" {
			kind = "internal"
		}
		if hi {
			msg = fmt.Sprintf("Kuch gadbad ho gayi (%s). Phir se try kariye.", kind)
		} else {
			msg = fmt.Sprintf("Something went wrong (%s). Please try again.", kind)
		}
	}

	outcome := in.Outcome
	if outcome == "" {
		outcome = OutcomeError
	}
	return &models.Notice{
		Message:     msg,
		Outcome:     outcome,
		LanguageTag: lang,
	}
}

func renderOrderPlaced(in NoticeInput, hi bool) string {
	p := in.Purchase
	title, eta := "", 0
	if in.Decision != nil && in.Decision.Selected != nil {
		title = in.Decision.Selected.Title
		eta = in.Decision.Selected.DeliveryETA
	}

	var msg string
	if hi {
		msg = fmt.Sprintf("Order ho gaya! %s — %s se", title, p.PlatformUsed)
		if eta > 0 {
			msg += fmt.Sprintf(" %d minute mein aa jayega", eta)
		}
		msg += fmt.Sprintf(". Order ID: %s.", p.OrderID)
		if p.UsedFallback {
			msg += " Pehla platform fail hua, doosre se order kiya."
		}
		if p.DryRun {
			msg += " (Dry run — asli order nahi hua.)"
		}
	} else {
		msg = fmt.Sprintf("Order placed! %s via %s", title, p.PlatformUsed)
		if eta > 0 {
			msg += fmt.Sprintf(", arriving in about %d minutes", eta)
		}
		msg += fmt.Sprintf(". Order ID: %s.", p.OrderID)
		if p.UsedFallback {
			msg += " The first platform failed, so a fallback was used."
		}
		if p.DryRun {
			msg += " (Dry run — no real order was placed.)"
		}
	}
	return msg
}

func renderBlocked(in NoticeInput, hi bool) string {
	reason := ""
	if in.Purchase != nil {
		reason = in.Purchase.Message
		if reason == "" {
			reason = string(in.Purchase.FailureKind)
		}
	}
	if hi {
		if reason != "" {
			return fmt.Sprintf("Safety check ne order rok diya: %s. Koi paisa nahi kata.", reason)
		}
		return "Safety check ne order rok diya. Koi paisa nahi kata."
	}
	if reason != "" {
		return fmt.Sprintf("The safety check blocked this order: %s. No money was charged.", reason)
	}
	return "The safety check blocked this order. No money was charged."
}

func renderFailed(in NoticeInput, hi bool) string {
	reason := ""
	if in.Purchase != nil {
		reason = in.Purchase.Message
		if reason == "" {
			reason = string(in.Purchase.FailureKind)
		}
	}
	if hi {
		if reason != "" {
			return fmt.Sprintf("Order nahi ho paya — %s. Thodi der baad try karein.", reason)
		}
		return "Order nahi ho paya. Thodi der baad try karein."
	}
	if reason != "" {
		return fmt.Sprintf("The order could not be placed — %s. Please try again in a bit.", reason)
	}
	return "The order could not be placed. Please try again in a bit."
}
