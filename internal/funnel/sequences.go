package funnel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/whatsadvisor/funnelbot/internal/match"
	"github.com/whatsadvisor/funnelbot/internal/models"
)

// MaxPlanOptions caps the numbered options offered after a plan presentation.
const MaxPlanOptions = 4

// outItem is one entry of an outbound sequence. Empty content is skipped.
type outItem struct {
	kind    models.StepKind
	content string
}

// sendSequence delivers items in order with the pacing delay between
// consecutive sends, skipping empties. Individual failures are logged and
// the sequence continues.
func (e *Engine) sendSequence(ctx context.Context, to string, items []outItem) {
	sent := false
	for _, it := range items {
		if it.content == "" {
			continue
		}
		if sent {
			e.pause(ctx)
		}
		switch it.kind {
		case models.StepKindImage:
			e.sendMediaRef(ctx, to, it.content)
		default:
			e.sendText(ctx, to, it.content)
		}
		sent = true
	}
}

// runPlanSequence sends a membership plan presentation followed by its
// numbered options. With options the contact enters option selection; a plan
// without options ends the conversation in cooldown.
func (e *Engine) runPlanSequence(ctx context.Context, contact string, plan models.MembershipPlan, prev *models.ContactState) {
	slog.Info("funnel: plan matched", "contact", contact, "plan", plan.Name)

	items := []outItem{
		{models.StepKindImage, plan.PostMediaRef},
		{models.StepKindText, plan.BenefitText},
		{models.StepKindImage, plan.PDFMediaRef},
	}
	if plan.Price != "" {
		items = append(items, outItem{models.StepKindText, fmt.Sprintf(priceFormat, plan.Price)})
	}
	e.sendSequence(ctx, contact, items)

	options, err := e.st.GetPlanOptions(plan.ID)
	if err != nil {
		slog.Error("funnel: failed to load plan options", "plan", plan.ID, "error", err)
		options = nil
	}
	if len(options) > MaxPlanOptions {
		options = options[:MaxPlanOptions]
	}
	if len(options) == 0 {
		e.cooldown(contact, prev)
		return
	}

	e.pause(ctx)
	e.sendText(ctx, contact, formatOptionList(options))
	e.commit(contact, models.ContactState{
		Contact:   contact,
		State:     models.StateMemberOptionSelection,
		PlanID:    plan.ID,
		UpdatedAt: e.now(),
	}, prev)
}

// runCampaignSequence sends the campaign presentation in its fixed order,
// skipping empty fields, and leaves the contact waiting for a modality choice.
func (e *Engine) runCampaignSequence(ctx context.Context, contact string, c models.Campaign, prev *models.ContactState) {
	slog.Info("funnel: campaign matched", "contact", contact, "campaign", c.ID)

	welcome := c.WelcomeText
	if welcome == "" {
		w, err := e.st.GetWelcomeMessage()
		if err != nil {
			slog.Warn("funnel: failed to load welcome message", "error", err)
		}
		welcome = w
	}
	if welcome == "" {
		welcome = defaultWelcomeText
	}

	e.sendSequence(ctx, contact, []outItem{
		{models.StepKindText, welcome},
		{models.StepKindImage, c.PresentationMedia},
		{models.StepKindImage, c.BrochureMedia},
		{models.StepKindImage, c.ModalityMediaA},
		{models.StepKindImage, c.ModalityMediaB},
		{models.StepKindText, c.SessionText},
		{models.StepKindImage, c.InvestmentMedia},
		{models.StepKindText, c.FinalText},
	})

	e.commit(contact, models.ContactState{
		Contact:   contact,
		State:     models.StateFoundationModalitySelection,
		UpdatedAt: e.now(),
	}, prev)
}

// handleModalitySelection resolves a modality choice. Anything outside the
// recognized vocabulary is ignored and the contact keeps waiting.
func (e *Engine) handleModalitySelection(ctx context.Context, contact, text string, prev *models.ContactState) {
	if !match.ContainsAny(text, modalityVocab) {
		slog.Debug("funnel: modality not recognized", "contact", contact)
		return
	}

	c, ok := e.activeCampaign(contact)
	if !ok {
		e.sendText(ctx, contact, apologyText)
		return
	}
	if !e.sendText(ctx, contact, c.PaymentPrompt) {
		return
	}
	e.commit(contact, models.ContactState{
		Contact:   contact,
		State:     models.StateFoundationPaymentSelection,
		UpdatedAt: e.now(),
	}, prev)
}

// handleFoundationPayment resolves the Yape-versus-card choice and sends the
// matching instruction branch. Unrecognized input keeps the contact waiting.
func (e *Engine) handleFoundationPayment(ctx context.Context, contact, text string, prev *models.ContactState) {
	c, ok := e.activeCampaign(contact)
	if !ok {
		e.sendText(ctx, contact, apologyText)
		return
	}

	switch {
	case match.ContainsAny(text, yapeVocab):
		e.sendSequence(ctx, contact, []outItem{
			{models.StepKindText, c.YapeTextOne},
			{models.StepKindImage, c.YapeImageRef},
			{models.StepKindText, c.YapeTextTwo},
		})
	case match.ContainsAny(text, cardVocab):
		e.sendSequence(ctx, contact, []outItem{
			{models.StepKindText, c.CardTextOne},
			{models.StepKindText, c.CardTextTwo},
		})
	default:
		slog.Debug("funnel: payment branch not recognized", "contact", contact)
		return
	}
	e.cooldown(contact, prev)
}

// activeCampaign returns the campaign driving the foundation funnel. The
// selection states carry no campaign reference, so the first catalog entry is
// authoritative, matching how the content is managed.
func (e *Engine) activeCampaign(contact string) (models.Campaign, bool) {
	campaigns, err := e.st.GetCampaigns()
	if err != nil || len(campaigns) == 0 {
		slog.Error("funnel: no campaign available", "contact", contact, "error", err)
		return models.Campaign{}, false
	}
	return campaigns[0], true
}

// handleOptionSelection resolves a numbered plan option and dispatches its
// configured response. Non-numeric input is logged as unrecognized with no
// reply and the state kept.
func (e *Engine) handleOptionSelection(ctx context.Context, contact, text string, prev *models.ContactState) {
	n, ok := match.Number(text, MaxPlanOptions)
	if !ok {
		e.logUnrecognized(contact, text)
		return
	}

	resp, err := e.st.GetOptionResponse(prev.PlanID, n)
	if err != nil {
		slog.Error("funnel: failed to load option response", "plan", prev.PlanID, "option", n, "error", err)
		e.sendText(ctx, contact, apologyText)
		return
	}
	if resp == nil {
		e.sendText(ctx, contact, apologyText)
		e.cooldown(contact, prev)
		return
	}

	switch resp.Kind {
	case models.ResponseKindText:
		e.sendText(ctx, contact, resp.Message)
		if match.ContainsAny(resp.Message, paymentMentionVocab) {
			e.pause(ctx)
			e.openPaymentMenu(ctx, contact, resp.ID, prev, false)
			return
		}
		e.cooldown(contact, prev)
	case models.ResponseKindSchedule:
		msg := resp.Message
		cond := models.ScheduleOutside
		if WithinBusinessHours(e.now()) {
			cond = models.ScheduleWithin
		}
		st, err := e.st.GetScheduleText(resp.ID, cond)
		if err != nil {
			slog.Warn("funnel: failed to load schedule text", "response", resp.ID, "error", err)
		}
		if st != nil && st.Message != "" {
			msg = st.Message
		}
		e.sendText(ctx, contact, msg)
		e.cooldown(contact, prev)
	case models.ResponseKindSubmenu:
		e.openPaymentMenu(ctx, contact, resp.ID, prev, true)
	default:
		slog.Warn("funnel: unknown response kind", "plan", prev.PlanID, "option", n, "kind", resp.Kind)
		if resp.Message != "" {
			e.sendText(ctx, contact, resp.Message)
		} else {
			e.sendText(ctx, contact, apologyText)
		}
		e.cooldown(contact, prev)
	}
}

// openPaymentMenu sends the payment method list for a response and moves the
// contact into method selection. Without methods an explicit submenu gets an
// apology; an implicit one (payment wording in a text response) stays silent.
// Either way the contact ends in cooldown.
func (e *Engine) openPaymentMenu(ctx context.Context, contact string, responseID int64, prev *models.ContactState, explicit bool) {
	methods, err := e.st.GetPaymentMethods(responseID)
	if err != nil {
		slog.Error("funnel: failed to load payment methods", "response", responseID, "error", err)
		methods = nil
	}
	if len(methods) == 0 {
		if explicit {
			e.sendText(ctx, contact, noMethodsText)
		}
		e.cooldown(contact, prev)
		return
	}

	e.sendText(ctx, contact, formatMethodList(methods))
	e.commit(contact, models.ContactState{
		Contact:    contact,
		State:      models.StatePaymentMethodSelection,
		ResponseID: responseID,
		UpdatedAt:  e.now(),
	}, prev)
}

// handlePaymentSelection resolves a payment method choice and sends its
// ordered instruction steps. An unresolvable choice gets a guidance message
// and the state is kept untouched.
func (e *Engine) handlePaymentSelection(ctx context.Context, contact, text string, prev *models.ContactState) {
	methods, err := e.st.GetPaymentMethods(prev.ResponseID)
	if err != nil {
		slog.Error("funnel: failed to load payment methods", "response", prev.ResponseID, "error", err)
		e.sendText(ctx, contact, apologyText)
		return
	}

	n, ok := match.NumberOrWord(text, methods)
	if !ok {
		e.sendText(ctx, contact, methodGuidanceText)
		return
	}
	method := methods[n-1]
	slog.Info("funnel: payment method selected", "contact", contact, "method", method)

	steps, err := e.st.GetPaymentMethodSteps(prev.ResponseID, method)
	if err != nil {
		slog.Error("funnel: failed to load payment steps", "response", prev.ResponseID, "method", method, "error", err)
		e.sendText(ctx, contact, apologyText)
		return
	}

	items := make([]outItem, 0, len(steps))
	for _, s := range steps {
		items = append(items, outItem{s.Kind, s.Content})
	}
	if len(items) == 0 {
		e.sendText(ctx, contact, sendErrorText)
	} else {
		e.sendSequence(ctx, contact, items)
	}
	e.cooldown(contact, prev)
}

func formatOptionList(options []models.PlanOption) string {
	var b strings.Builder
	b.WriteString(optionListHeader)
	for _, o := range options {
		b.WriteString(fmt.Sprintf("\n%d. %s", o.OptionNumber, o.OptionText))
	}
	return b.String()
}

func formatMethodList(methods []string) string {
	var b strings.Builder
	b.WriteString(methodListHeader)
	for i, m := range methods {
		b.WriteString(fmt.Sprintf("\n%d. %s", i+1, m))
	}
	return b.String()
}
