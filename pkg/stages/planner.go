package stages

import (
	"fmt"

	"github.com/kiranamart/mandi/pkg/models"
)

// Plan stage lists per intent kind. Plans are selections over the canonical
// stage order; the engine walks every stage and skips the ones a plan leaves
// out.
var (
	purchaseStages = []models.StageID{
		models.StageIntentExtraction,
		models.StageTaskPlanning,
		models.StageSearch,
		models.StageComparison,
		models.StageDecision,
		models.StageAwaitConfirmation,
		models.StagePurchase,
		models.StageNotification,
	}
	infoStages = []models.StageID{
		models.StageIntentExtraction,
		models.StageTaskPlanning,
		models.StageQueryInfo,
		models.StageNotification,
	}
	clarifyStages = []models.StageID{
		models.StageIntentExtraction,
		models.StageTaskPlanning,
		models.StageNotification,
	}
)

// BuildPlan derives the run's plan from the extracted intent. Purchase
// intents walk the full search→purchase path; info questions take the
// knowledge path; clarify requests go straight to notification so the
// question reaches the user.
func BuildPlan(intent *models.Intent) *models.Plan {
	switch intent.Kind {
	case models.IntentInfo:
		return &models.Plan{
			Stages:  infoStages,
			Summary: infoSummary(intent),
			Steps: []models.PlanStep{
				{Stage: models.StageQueryInfo, Description: "answer from the knowledge base"},
				{Stage: models.StageNotification, Description: "send the answer"},
			},
		}

	case models.IntentClarify:
		return &models.Plan{
			Stages:  clarifyStages,
			Summary: "Request unclear: ask a clarifying question",
			Steps: []models.PlanStep{
				{Stage: models.StageNotification, Description: "ask the clarifying question"},
			},
		}

	default:
		return &models.Plan{
			Stages:  purchaseStages,
			Summary: purchaseSummary(intent),
			Steps: []models.PlanStep{
				{Stage: models.StageSearch, Description: "search all configured platforms"},
				{Stage: models.StageComparison, Description: "rank by delivery, price and reliability"},
				{Stage: models.StageDecision, Description: "apply purchase policies, pick one + fallbacks"},
				{Stage: models.StageAwaitConfirmation, Description: "wait for user go-ahead"},
				{Stage: models.StagePurchase, Description: "place the order with retry and fallback"},
				{Stage: models.StageNotification, Description: "report the outcome"},
			},
		}
	}
}

func purchaseSummary(intent *models.Intent) string {
	qty := ""
	if intent.Quantity > 0 {
		qty = fmt.Sprintf(" (%g %s)", intent.Quantity, intent.Unit)
	}
	switch intent.Urgency {
	case models.UrgencyHigh:
		return fmt.Sprintf("Urgent purchase of %s%s: fastest delivery first, minimal back-and-forth", intent.Item, qty)
	case models.UrgencyLow:
		return fmt.Sprintf("Relaxed purchase of %s%s: best price over speed", intent.Item, qty)
	default:
		return fmt.Sprintf("Purchase %s%s: balance price, delivery and reliability", intent.Item, qty)
	}
}

func infoSummary(intent *models.Intent) string {
	if intent.Item != "" {
		return fmt.Sprintf("Answer a question about %s", intent.Item)
	}
	return "Answer a general question"
}
