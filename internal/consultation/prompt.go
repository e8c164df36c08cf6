package consultation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hyperjump/soudan/internal/confidence"
	"github.com/hyperjump/soudan/internal/domain"
	"github.com/hyperjump/soudan/internal/models"
)

// ForcedContent stands in for an empty user message on a forced transition.
const ForcedContent = "That's all the information I have available. Please go ahead with your recommendation based on what we've discussed."

const signalInstructions = `When you have enough information to give a grounded recommendation, end your reply with:
<consultation_signal><ready>true</ready><refined_query>a self-contained search query describing the problem</refined_query><application_domain>one id from the list below</application_domain><parameters>{"key": "value"} as a JSON object of everything you learned</parameters></consultation_signal>
Never show or mention the signal otherwise. Ask at most two questions per reply.

Application domains:
%s`

const nudgeInstruction = `IMPORTANT: You have been gathering information for several turns. If you can give a useful recommendation now, signal readiness. Otherwise tell the user the ONE critical piece of information you still need, and wrap up the diagnostic phase.`

const forceInstruction = `CRITICAL OVERRIDE: The user has no more information to give. Do not ask further questions. Acknowledge briefly and signal readiness immediately with the best refined query and parameters you can infer from the conversation.`

const recommendationFormat = `Format this first recommendation in two parts:
<chat_summary>
A 300-400 word summary for the chat: the recommendation, the key reasons and the next step.
</chat_summary>
<full_report>
The detailed engineering report: assumptions, analysis, alternatives, and references by number.
</full_report>`

var confidenceInstructions = map[confidence.Label]string{
	confidence.High: "Retrieval is strong. Answer directly and cite the references by number for every factual claim.",
	confidence.Moderate: "Retrieval is partial. Answer, cite what the references support, state clearly where they are " +
		"thin, and tell the user what to verify before acting.",
	confidence.Low: "Retrieval is weak. Hedge your answer, say plainly what the knowledge base does not cover, and " +
		"ask for the specific details that would let you give a grounded recommendation.",
}

func gatheringSystem(d *domain.Domain, turns, nudgeAfter int, force bool) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(d.GatheringPrompt))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, signalInstructions, d.TaxonomyPrompt())
	if force {
		b.WriteString("\n\n" + forceInstruction)
	} else if nudgeAfter > 0 && turns >= nudgeAfter {
		b.WriteString("\n\n" + nudgeInstruction)
	}
	return b.String()
}

type answeringContext struct {
	domain      *domain.Domain
	session     *models.Session
	results     []*models.SearchResult
	assessment  confidence.Assessment
	precomputed string
	initial     bool
}

func answeringSystem(ac answeringContext) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(ac.domain.AnsweringPrompt))

	b.WriteString("\n\nAPPLICATION PROFILE:\n")
	if app, ok := ac.domain.ApplicationDomain(ac.session.ApplicationDomain); ok {
		fmt.Fprintf(&b, "  application: %s\n", app.Name)
	}
	if len(ac.session.Parameters) == 0 {
		b.WriteString("  (No structured parameters extracted)\n")
	} else {
		keys := make([]string, 0, len(ac.session.Parameters))
		for k := range ac.session.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", k, ac.session.Parameters[k])
		}
	}

	if ac.precomputed != "" {
		b.WriteString("\n" + ac.precomputed + "\n")
	}

	b.WriteString("\nRETRIEVED CONTEXT:\n")
	b.WriteString(referenceBlock(ac.results, ac.assessment))

	b.WriteString("\n\n" + confidenceInstructions[ac.assessment.Label])
	if ac.initial {
		b.WriteString("\n\n" + recommendationFormat)
	}
	return b.String()
}

func referenceBlock(results []*models.SearchResult, a confidence.Assessment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "RETRIEVAL CONFIDENCE: %s\n%s\n", a.Label, a.Rationale)
	if len(results) == 0 {
		b.WriteString("\n(No relevant documents found in the knowledge base. Answer from general engineering " +
			"knowledge and say that no reference supports the answer.)")
		return b.String()
	}

	counts := map[string]int{}
	var order []string
	for _, r := range results {
		name := sourceName(r)
		if counts[name] == 0 {
			order = append(order, name)
		}
		counts[name]++
	}
	b.WriteString("\nUNIQUE SOURCES RETRIEVED:\n")
	for _, name := range order {
		fmt.Fprintf(&b, "  - %s (%d passages)\n", name, counts[name])
	}

	for i, r := range results {
		label := sourceName(r)
		if r.Parent.SectionPath != "" {
			label += " › " + r.Parent.SectionPath
		}
		fmt.Fprintf(&b, "\n--- Reference [%d]: %s (relevance: %.3f) ---\n%s\n", i+1, label, r.Score, r.Parent.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func sourceName(r *models.SearchResult) string {
	if r.Parent.DocumentTitle != "" {
		return r.Parent.DocumentTitle
	}
	return r.Source()
}
