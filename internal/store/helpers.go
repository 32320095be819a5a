package store

import (
	"database/sql"
	"encoding/json"
	"log/slog"

	"github.com/whatsadvisor/funnelbot/internal/models"
)

// refIDFor extracts the catalog reference persisted alongside a state. Only
// one of PlanID/ResponseID is meaningful per state; the others stay zero.
func refIDFor(cs models.ContactState) int64 {
	switch cs.State {
	case models.StateMemberOptionSelection:
		return cs.PlanID
	case models.StatePaymentMethodSelection:
		return cs.ResponseID
	default:
		return 0
	}
}

// applyRefID maps a persisted ref column back onto the typed state field.
func applyRefID(cs *models.ContactState, ref int64) {
	switch cs.State {
	case models.StateMemberOptionSelection:
		cs.PlanID = ref
	case models.StatePaymentMethodSelection:
		cs.ResponseID = ref
	}
}

// decodeKeywords parses the JSON keyword column of a campaign row. A row with
// malformed keywords is skipped by the caller, matching continues over the rest.
func decodeKeywords(raw string) ([]string, bool) {
	var kws []string
	if err := json.Unmarshal([]byte(raw), &kws); err != nil {
		slog.Warn("store: skipping campaign row with malformed keywords", "error", err)
		return nil, false
	}
	return kws, true
}

// scanCampaign scans one campaign row, decoding its keyword JSON. ok=false
// means the row is malformed and should be skipped.
func scanCampaign(rows *sql.Rows) (models.Campaign, bool, error) {
	var c models.Campaign
	var keywordsJSON string
	var welcome, presentation, brochure, modA, modB, session, investment, final sql.NullString
	var prompt, yapeOne, yapeImg, yapeTwo, cardOne, cardTwo sql.NullString
	err := rows.Scan(&c.ID, &keywordsJSON, &welcome, &presentation, &brochure, &modA, &modB,
		&session, &investment, &final, &prompt, &yapeOne, &yapeImg, &yapeTwo, &cardOne, &cardTwo)
	if err != nil {
		return c, false, err
	}
	c.WelcomeText = welcome.String
	c.PresentationMedia = presentation.String
	c.BrochureMedia = brochure.String
	c.ModalityMediaA = modA.String
	c.ModalityMediaB = modB.String
	c.SessionText = session.String
	c.InvestmentMedia = investment.String
	c.FinalText = final.String
	c.PaymentPrompt = prompt.String
	c.YapeTextOne = yapeOne.String
	c.YapeImageRef = yapeImg.String
	c.YapeTextTwo = yapeTwo.String
	c.CardTextOne = cardOne.String
	c.CardTextTwo = cardTwo.String
	kws, ok := decodeKeywords(keywordsJSON)
	if !ok {
		return c, false, nil
	}
	c.Keywords = kws
	return c, true, nil
}

// scanPlan scans one membership plan row with nullable content columns.
func scanPlan(rows *sql.Rows) (models.MembershipPlan, error) {
	var p models.MembershipPlan
	var post, benefit, pdf, price sql.NullString
	if err := rows.Scan(&p.ID, &p.Name, &post, &benefit, &pdf, &price); err != nil {
		return p, err
	}
	p.PostMediaRef = post.String
	p.BenefitText = benefit.String
	p.PDFMediaRef = pdf.String
	p.Price = price.String
	return p, nil
}
