package models

import (
	"testing"
	"time"
)

func TestPermissionSetAllows(t *testing.T) {
	tests := []struct {
		name    string
		domains []Domain
		domain  Domain
		want    bool
	}{
		{"direct grant", []Domain{DomainMembers}, DomainMembers, true},
		{"not granted", []Domain{DomainMembers}, DomainFoundation, false},
		{"all grants members", []Domain{DomainAll}, DomainMembers, true},
		{"all grants foundation", []Domain{DomainAll}, DomainFoundation, true},
		{"empty set", nil, DomainMembers, false},
		{"empty domain never allowed", []Domain{DomainAll}, Domain(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PermissionSet{Role: "bot", Domains: tt.domains}
			if got := p.Allows(tt.domain); got != tt.want {
				t.Errorf("Allows(%q) = %v, want %v", tt.domain, got, tt.want)
			}
		})
	}
}

func TestParsePermissions(t *testing.T) {
	got := ParsePermissions("members, fundacion ,,")
	if len(got) != 2 || got[0] != DomainMembers || got[1] != DomainFoundation {
		t.Errorf("ParsePermissions returned %v", got)
	}
	if got := ParsePermissions(""); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
}

func TestMembershipPlanKeywords(t *testing.T) {
	p := MembershipPlan{Name: "Plan Oro VIP"}
	kws := p.Keywords()
	if len(kws) != 3 {
		t.Fatalf("expected 3 keywords, got %v", kws)
	}
	for i, want := range []string{"plan", "oro", "vip"} {
		if kws[i] != want {
			t.Errorf("keyword %d = %q, want %q", i, kws[i], want)
		}
	}

	// Tokens of length <= 2 are dropped.
	short := MembershipPlan{Name: "Plan de IA"}
	kws = short.Keywords()
	if len(kws) != 1 || kws[0] != "plan" {
		t.Errorf("expected only 'plan', got %v", kws)
	}
}

func TestIsValidStateType(t *testing.T) {
	valid := []StateType{
		StateNone,
		StateMemberOptionSelection,
		StatePaymentMethodSelection,
		StateFoundationModalitySelection,
		StateFoundationPaymentSelection,
	}
	for _, st := range valid {
		if !IsValidStateType(st) {
			t.Errorf("expected %q to be valid", st)
		}
	}
	if IsValidStateType(StateType("bogus")) {
		t.Error("expected bogus state to be invalid")
	}
}

func TestContactStateIdleSince(t *testing.T) {
	now := time.Now()
	cs := ContactState{Contact: "123", State: StateNone, UpdatedAt: now.Add(-30 * time.Minute)}
	if idle := cs.IdleSince(now); idle != 30*time.Minute {
		t.Errorf("IdleSince = %v, want 30m", idle)
	}
}

func TestMediaIsDocument(t *testing.T) {
	if (Media{MimeType: "image/jpeg"}).IsDocument() {
		t.Error("image should not be a document")
	}
	if !(Media{MimeType: "application/pdf"}).IsDocument() {
		t.Error("pdf should be a document")
	}
}
