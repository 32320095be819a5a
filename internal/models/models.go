// Package models defines the core data structures for funnelbot.
//
// It includes the catalog entities matched against inbound messages, the
// per-contact funnel state, and the permission set active for the process.
package models

import (
	"errors"
	"strings"
	"time"
)

// Domain names a catalog area the active role may or may not use.
type Domain string

const (
	// DomainMembers covers the membership plan catalog.
	DomainMembers Domain = "members"
	// DomainFoundation covers the campaign ("fundacion") catalog.
	DomainFoundation Domain = "fundacion"
	// DomainAll grants every domain.
	DomainAll Domain = "all"
)

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyBody      = errors.New("message body cannot be empty")
)

// PermissionSet is the role and catalog domains supplied at engine start.
type PermissionSet struct {
	Role    string   `json:"role"`
	Domains []Domain `json:"domains"`
}

// Allows reports whether the permission set grants the given domain.
// An empty domain is never allowed; DomainAll grants everything.
func (p PermissionSet) Allows(domain Domain) bool {
	if domain == "" {
		return false
	}
	for _, d := range p.Domains {
		if d == DomainAll || d == domain {
			return true
		}
	}
	return false
}

// ParsePermissions converts a comma-separated domain list (e.g. "members,fundacion")
// into a slice of Domains, dropping empty entries.
func ParsePermissions(s string) []Domain {
	var domains []Domain
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		domains = append(domains, Domain(part))
	}
	return domains
}

// MembershipPlan is one row of the members catalog. The keyword set matched
// against inbound text is derived from Name: lowercase tokens longer than two
// characters.
type MembershipPlan struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	PostMediaRef string `json:"post_media_ref,omitempty"`
	BenefitText  string `json:"benefit_text,omitempty"`
	PDFMediaRef  string `json:"pdf_media_ref,omitempty"`
	Price        string `json:"price,omitempty"`
}

// Keywords returns the lowercase tokens of the plan name with length > 2.
func (p MembershipPlan) Keywords() []string {
	var kws []string
	for _, w := range strings.Fields(strings.ToLower(p.Name)) {
		if len(w) > 2 {
			kws = append(kws, w)
		}
	}
	return kws
}

// PlanOption is one numbered option offered after a plan presentation.
type PlanOption struct {
	PlanID       int64  `json:"plan_id"`
	OptionNumber int    `json:"option_number"`
	OptionText   string `json:"option_text"`
}

// ResponseKind selects how an option response is delivered.
type ResponseKind string

const (
	// ResponseKindText sends the response message as-is.
	ResponseKindText ResponseKind = "text"
	// ResponseKindSchedule sends a business-hours dependent message.
	ResponseKindSchedule ResponseKind = "schedule"
	// ResponseKindSubmenu sends the payment method list for the response.
	ResponseKindSubmenu ResponseKind = "submenu"
)

// OptionResponse is the configured reply for one plan option.
type OptionResponse struct {
	ID           int64        `json:"id"`
	PlanID       int64        `json:"plan_id"`
	OptionNumber int          `json:"option_number"`
	Kind         ResponseKind `json:"kind"`
	Message      string       `json:"message"`
}

// StepKind selects the content type of a payment method step.
type StepKind string

const (
	// StepKindText is a plain text step.
	StepKindText StepKind = "text"
	// StepKindImage is an image step; Content is a media reference.
	StepKindImage StepKind = "image"
)

// PaymentMethodStep is one ordered step of a payment method's instructions.
// Steps are grouped by (ResponseID, MethodName) and sent in StepOrder.
type PaymentMethodStep struct {
	ResponseID int64    `json:"response_id"`
	MethodName string   `json:"method_name"`
	StepOrder  int      `json:"step_order"`
	Kind       StepKind `json:"kind"`
	Content    string   `json:"content"`
}

// ScheduleCondition distinguishes business-hours texts.
type ScheduleCondition string

const (
	// ScheduleWithin applies during business hours.
	ScheduleWithin ScheduleCondition = "within"
	// ScheduleOutside applies outside business hours.
	ScheduleOutside ScheduleCondition = "outside"
)

// ScheduleText is the configured message for a schedule-kind response under
// one business-hours condition.
type ScheduleText struct {
	ResponseID int64             `json:"response_id"`
	Condition  ScheduleCondition `json:"condition"`
	Message    string            `json:"message"`
}

// Campaign is one row of the foundation catalog. Keywords are an explicit
// list, unlike membership plans. The presentation fields are sent in fixed
// order, skipping empties; the payment fields drive the two payment branches.
type Campaign struct {
	ID                int64    `json:"id"`
	Keywords          []string `json:"keywords"`
	WelcomeText       string   `json:"welcome_text,omitempty"`
	PresentationMedia string   `json:"presentation_media,omitempty"`
	BrochureMedia     string   `json:"brochure_media,omitempty"`
	ModalityMediaA    string   `json:"modality_media_a,omitempty"`
	ModalityMediaB    string   `json:"modality_media_b,omitempty"`
	SessionText       string   `json:"session_text,omitempty"`
	InvestmentMedia   string   `json:"investment_media,omitempty"`
	FinalText         string   `json:"final_text,omitempty"`
	PaymentPrompt     string   `json:"payment_prompt,omitempty"`
	YapeTextOne       string   `json:"yape_text_one,omitempty"`
	YapeImageRef      string   `json:"yape_image_ref,omitempty"`
	YapeTextTwo       string   `json:"yape_text_two,omitempty"`
	CardTextOne       string   `json:"card_text_one,omitempty"`
	CardTextTwo       string   `json:"card_text_two,omitempty"`
}

// Response represents an incoming message from a contact.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// Media is resolved binary content ready for delivery.
type Media struct {
	Data     []byte `json:"-"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename"`
	// URL is the public location the content was resolved from. Transports
	// that deliver media by reference (Twilio) use it instead of Data.
	URL string `json:"url,omitempty"`
}

// IsDocument reports whether the media should be delivered as a document
// rather than an inline image.
func (m Media) IsDocument() bool {
	return !strings.HasPrefix(m.MimeType, "image/")
}

// UnrecognizedMessage is an append-only record of inbound text that matched
// nothing: no active state branch, no catalog entry.
type UnrecognizedMessage struct {
	ID      string    `json:"id"`
	Contact string    `json:"contact"`
	Body    string    `json:"body"`
	Time    time.Time `json:"time"`
}
