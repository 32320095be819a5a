package funnel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/whatsadvisor/funnelbot/internal/media"
	"github.com/whatsadvisor/funnelbot/internal/models"
	"github.com/whatsadvisor/funnelbot/internal/store"
	"github.com/whatsadvisor/funnelbot/internal/testutil"
)

// sentItem is one recorded outbound send, in order.
type sentItem struct {
	kind string // "text" or "media"
	to   string
	body string // message text or media filename
}

// mockService records outbound sends for assertions.
type mockService struct {
	mu        sync.Mutex
	sent      []sentItem
	responses chan models.Response
}

func newMockService() *mockService {
	return &mockService{responses: make(chan models.Response, 10)}
}

func (m *mockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return recipient, nil
}

func (m *mockService) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentItem{kind: "text", to: to, body: body})
	return nil
}

func (m *mockService) SendMedia(ctx context.Context, to string, md models.Media) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentItem{kind: "media", to: to, body: md.Filename})
	return nil
}

func (m *mockService) Start(ctx context.Context) error { return nil }
func (m *mockService) Stop() error                     { close(m.responses); return nil }

func (m *mockService) Responses() <-chan models.Response { return m.responses }

func (m *mockService) sentItems() []sentItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentItem(nil), m.sent...)
}

// newTestEngine builds an engine over a seeded in-memory store, a recording
// transport and a local media origin.
func newTestEngine(t *testing.T, domains ...models.Domain) (*Engine, *store.InMemoryStore, *mockService) {
	t.Helper()
	st := store.NewInMemoryStore()
	testutil.SeedCatalog(t, st)
	svc := newMockService()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".pdf") {
			w.Header().Set("Content-Type", "application/pdf")
		} else {
			w.Header().Set("Content-Type", "image/jpeg")
		}
		fmt.Fprint(w, "content")
	}))
	t.Cleanup(origin.Close)

	e := NewEngine(
		WithStore(st),
		WithMessagingService(svc),
		WithMediaResolver(media.NewResolver(media.WithBaseURL(origin.URL))),
		WithPermissions(models.PermissionSet{Role: "bot", Domains: domains}),
		WithPaceDelay(0),
	)
	return e, st, svc
}

func mustState(t *testing.T, st *store.InMemoryStore, contact string) *models.ContactState {
	t.Helper()
	cs, err := st.GetContactState(contact)
	if err != nil {
		t.Fatalf("GetContactState failed: %v", err)
	}
	return cs
}

func TestPlanKeywordRunsMemberSequence(t *testing.T) {
	e, st, svc := newTestEngine(t, models.DomainMembers)

	e.HandleMessage(context.Background(), models.Response{From: "51999", Body: "Quiero el Plan ORO"})

	sent := svc.sentItems()
	if len(sent) != 5 {
		t.Fatalf("expected 5 sends, got %d: %+v", len(sent), sent)
	}
	if sent[0].kind != "media" {
		t.Errorf("first send should be the post image, got %+v", sent[0])
	}
	if sent[1].body != "Beneficios del Plan Oro" {
		t.Errorf("second send should be the benefit text, got %+v", sent[1])
	}
	if sent[2].kind != "media" {
		t.Errorf("third send should be the brochure, got %+v", sent[2])
	}
	if sent[3].body != "💰 *Precio:* S/ 100" {
		t.Errorf("fourth send should be the price, got %+v", sent[3])
	}
	if !strings.Contains(sent[4].body, "1. Quiero pagar") || !strings.Contains(sent[4].body, "2. Horarios") {
		t.Errorf("fifth send should list the options, got %q", sent[4].body)
	}

	cs := mustState(t, st, "51999")
	if cs == nil || cs.State != models.StateMemberOptionSelection || cs.PlanID != 1 {
		t.Errorf("state = %+v, want member_option_selection plan 1", cs)
	}
}

func TestPlanKeywordDeniedWithoutMembersDomain(t *testing.T) {
	e, st, svc := newTestEngine(t, models.DomainFoundation)

	e.HandleMessage(context.Background(), models.Response{From: "51999", Body: "plan oro"})

	if sent := svc.sentItems(); len(sent) != 0 {
		t.Errorf("expected no sends, got %+v", sent)
	}
	if cs := mustState(t, st, "51999"); cs != nil {
		t.Errorf("expected no state, got %+v", cs)
	}
	msgs, _ := st.GetUnrecognizedMessages("51999")
	if len(msgs) != 1 {
		t.Errorf("expected the message in the unrecognized log, got %+v", msgs)
	}
}

func TestCampaignKeywordRunsCampaignSequence(t *testing.T) {
	e, st, svc := newTestEngine(t, models.DomainFoundation)

	e.HandleMessage(context.Background(), models.Response{From: "51999", Body: "quiero info del congreso"})

	sent := svc.sentItems()
	if len(sent) != 4 {
		t.Fatalf("expected 4 sends (empty fields skipped), got %d: %+v", len(sent), sent)
	}
	if sent[0].body != "¡Bienvenido al congreso!" {
		t.Errorf("first send should be the welcome text, got %+v", sent[0])
	}
	if sent[1].kind != "media" {
		t.Errorf("second send should be the presentation image, got %+v", sent[1])
	}
	if sent[2].body != "Sesiones en vivo cada semana" || sent[3].body != "Responde con tu modalidad: 1, 2, 3 o 4" {
		t.Errorf("unexpected tail of sequence: %+v", sent[2:])
	}

	cs := mustState(t, st, "51999")
	if cs == nil || cs.State != models.StateFoundationModalitySelection {
		t.Errorf("state = %+v, want foundation_modality_selection", cs)
	}
}

func TestCampaignWelcomeFallsBackToDefault(t *testing.T) {
	e, st, svc := newTestEngine(t, models.DomainFoundation)
	st.Campaigns[0].WelcomeText = ""
	st.WelcomeText = ""

	e.HandleMessage(context.Background(), models.Response{From: "51999", Body: "congreso"})

	sent := svc.sentItems()
	if len(sent) == 0 || sent[0].body != defaultWelcomeText {
		t.Fatalf("expected the default greeting first, got %+v", sent)
	}
}

func TestModalitySelectionSendsPaymentPrompt(t *testing.T) {
	e, st, svc := newTestEngine(t, models.DomainFoundation)
	st.SaveContactState(models.ContactState{
		Contact:   "51999",
		State:     models.StateFoundationModalitySelection,
		UpdatedAt: time.Now().Add(-5 * time.Minute),
	})

	e.HandleMessage(context.Background(), models.Response{From: "51999", Body: "vip"})

	sent := svc.sentItems()
	if len(sent) != 1 || sent[0].body != "¿Cómo deseas pagar? 1. Yape 2. Tarjeta" {
		t.Fatalf("expected only the payment prompt, got %+v", sent)
	}
	cs := mustState(t, st, "51999")
	if cs == nil || cs.State != models.StateFoundationPaymentSelection {
		t.Errorf("state = %+v, want foundation_payment_selection", cs)
	}
}

func TestModalitySelectionIgnoresUnknownInput(t *testing.T) {
	e, st, svc := newTestEngine(t, models.DomainFoundation)
	prev := models.ContactState{
		Contact:   "51999",
		State:     models.StateFoundationModalitySelection,
		UpdatedAt: time.Now().Add(-5 * time.Minute),
	}
	st.SaveContactState(prev)

	e.HandleMessage(context.Background(), models.Response{From: "51999", Body: "no entiendo"})

	if sent := svc.sentItems(); len(sent) != 0 {
		t.Errorf("expected no sends, got %+v", sent)
	}
	cs := mustState(t, st, "51999")
	if cs == nil || cs.State != models.StateFoundationModalitySelection {
		t.Errorf("state should be retained, got %+v", cs)
	}
}

func TestExpiredStateResetsWithoutSending(t *testing.T) {
	e, st, svc := newTestEngine(t, models.DomainAll)
	old := time.Now().Add(-2 * time.Hour)
	st.SaveContactState(models.ContactState{
		Contact:   "51999",
		State:     models.StateFoundationPaymentSelection,
		UpdatedAt: old,
	})

	e.HandleMessage(context.Background(), models.Response{From: "51999", Body: "yape"})

	if sent := svc.sentItems(); len(sent) != 0 {
		t.Errorf("expected no sends for expired state, got %+v", sent)
	}
	cs := mustState(t, st, "51999")
	if cs == nil || cs.State != models.StateNone {
		t.Fatalf("state = %+v, want none", cs)
	}
	if !cs.UpdatedAt.Equal(old) {
		t.Errorf("reset must keep the old timestamp, got %v", cs.UpdatedAt)
	}
}

func TestPaymentSelectionByNumber(t *testing.T) {
	e, st, svc := newTestEngine(t, models.DomainMembers)
	st.SaveContactState(models.ContactState{
		Contact:    "51999",
		State:      models.StatePaymentMethodSelection,
		ResponseID: 10,
		UpdatedAt:  time.Now(),
	})

	e.HandleMessage(context.Background(), models.Response{From: "51999", Body: "1"})

	sent := svc.sentItems()
	if len(sent) != 2 {
		t.Fatalf("expected the two tarjeta steps, got %+v", sent)
	}
	if sent[0].body != "Paga con tarjeta aquí" || sent[1].body != "Confirma tu pago" {
		t.Errorf("steps out of order: %+v", sent)
	}
	cs := mustState(t, st, "51999")
	if cs == nil || cs.State != models.StateNone {
		t.Errorf("state = %+v, want none", cs)
	}
}

func TestPaymentSelectionByWord(t *testing.T) {
	e, st, svc := newTestEngine(t, models.DomainMembers)
	st.SaveContactState(models.ContactState{
		Contact:    "51999",
		State:      models.StatePaymentMethodSelection,
		ResponseID: 10,
		UpdatedAt:  time.Now(),
	})

	e.HandleMessage(context.Background(), models.Response{From: "51999", Body: "quiero pagar con yape"})

	sent := svc.sentItems()
	if len(sent) != 2 {
		t.Fatalf("expected the two yape steps, got %+v", sent)
	}
	if sent[0].body != "Yapea al 999" || sent[1].kind != "media" {
		t.Errorf("unexpected yape steps: %+v", sent)
	}
}

func TestPaymentSelectionMissSendsGuidance(t *testing.T) {
	e, st, svc := newTestEngine(t, models.DomainMembers)
	prev := models.ContactState{
		Contact:    "51999",
		State:      models.StatePaymentMethodSelection,
		ResponseID: 10,
		UpdatedAt:  time.Now(),
	}
	st.SaveContactState(prev)

	e.HandleMessage(context.Background(), models.Response{From: "51999", Body: "efectivo"})

	sent := svc.sentItems()
	if len(sent) != 1 || sent[0].body != methodGuidanceText {
		t.Fatalf("expected guidance text, got %+v", sent)
	}
	cs := mustState(t, st, "51999")
	if cs == nil || cs.State != models.StatePaymentMethodSelection || !cs.UpdatedAt.Equal(prev.UpdatedAt) {
		t.Errorf("state must be untouched, got %+v", cs)
	}
}

func TestOptionSelectionSubmenu(t *testing.T) {
	e, st, svc := newTestEngine(t, models.DomainMembers)
	st.SaveContactState(models.ContactState{
		Contact:   "51999",
		State:     models.StateMemberOptionSelection,
		PlanID:    1,
		UpdatedAt: time.Now(),
	})

	e.HandleMessage(context.Background(), models.Response{From: "51999", Body: "1"})

	sent := svc.sentItems()
	if len(sent) != 1 {
		t.Fatalf("expected the method list, got %+v", sent)
	}
	if !strings.Contains(sent[0].body, "1. tarjeta") || !strings.Contains(sent[0].body, "2. yape") {
		t.Errorf("method list missing entries: %q", sent[0].body)
	}
	cs := mustState(t, st, "51999")
	if cs == nil || cs.State != models.StatePaymentMethodSelection || cs.ResponseID != 10 {
		t.Errorf("state = %+v, want payment_method_selection response 10", cs)
	}
}

func TestOptionSelectionSchedule(t *testing.T) {
	e, st, svc := newTestEngine(t, models.DomainMembers)
	st.SaveContactState(models.ContactState{
		Contact:   "51999",
		State:     models.StateMemberOptionSelection,
		PlanID:    1,
		UpdatedAt: time.Now(),
	})

	e.HandleMessage(context.Background(), models.Response{From: "51999", Body: "2"})

	sent := svc.sentItems()
	if len(sent) != 1 {
		t.Fatalf("expected one schedule text, got %+v", sent)
	}
	if sent[0].body != "Estamos en horario de atención." && sent[0].body != "Te responderemos en horario de oficina." {
		t.Errorf("unexpected schedule text: %q", sent[0].body)
	}
	cs := mustState(t, st, "51999")
	if cs == nil || cs.State != models.StateNone {
		t.Errorf("state = %+v, want none", cs)
	}
}

func TestOptionSelectionNonNumericLogged(t *testing.T) {
	e, st, svc := newTestEngine(t, models.DomainMembers)
	prev := models.ContactState{
		Contact:   "51999",
		State:     models.StateMemberOptionSelection,
		PlanID:    1,
		UpdatedAt: time.Now(),
	}
	st.SaveContactState(prev)

	e.HandleMessage(context.Background(), models.Response{From: "51999", Body: "gracias"})

	if sent := svc.sentItems(); len(sent) != 0 {
		t.Errorf("expected no reply, got %+v", sent)
	}
	cs := mustState(t, st, "51999")
	if cs == nil || cs.State != models.StateMemberOptionSelection {
		t.Errorf("state must be retained, got %+v", cs)
	}
	msgs, _ := st.GetUnrecognizedMessages("51999")
	if len(msgs) != 1 {
		t.Errorf("expected unrecognized log entry, got %+v", msgs)
	}
}

func TestFoundationPaymentYapeBranch(t *testing.T) {
	e, st, svc := newTestEngine(t, models.DomainFoundation)
	st.SaveContactState(models.ContactState{
		Contact:   "51999",
		State:     models.StateFoundationPaymentSelection,
		UpdatedAt: time.Now(),
	})

	e.HandleMessage(context.Background(), models.Response{From: "51999", Body: "yape"})

	sent := svc.sentItems()
	if len(sent) != 3 {
		t.Fatalf("expected text, image, text for the yape branch, got %+v", sent)
	}
	if sent[0].body != "Yapea al número 999" || sent[1].kind != "media" || sent[2].body != "Envíanos tu constancia" {
		t.Errorf("unexpected yape branch: %+v", sent)
	}
	cs := mustState(t, st, "51999")
	if cs == nil || cs.State != models.StateNone {
		t.Errorf("state = %+v, want none", cs)
	}
}

func TestFoundationPaymentCardBranch(t *testing.T) {
	e, st, svc := newTestEngine(t, models.DomainFoundation)
	st.SaveContactState(models.ContactState{
		Contact:   "51999",
		State:     models.StateFoundationPaymentSelection,
		UpdatedAt: time.Now(),
	})

	e.HandleMessage(context.Background(), models.Response{From: "51999", Body: "2"})

	sent := svc.sentItems()
	if len(sent) != 2 {
		t.Fatalf("expected the two card texts, got %+v", sent)
	}
	if sent[0].body != "Paga con tarjeta en este enlace" || sent[1].body != "Recibirás tu confirmación" {
		t.Errorf("unexpected card branch: %+v", sent)
	}
}

func TestCooldownSuppressesCampaignMatching(t *testing.T) {
	e, st, svc := newTestEngine(t, models.DomainFoundation)
	st.SaveContactState(models.ContactState{
		Contact:   "51999",
		State:     models.StateNone,
		UpdatedAt: time.Now().Add(-10 * time.Minute),
	})

	e.HandleMessage(context.Background(), models.Response{From: "51999", Body: "congreso"})

	if sent := svc.sentItems(); len(sent) != 0 {
		t.Errorf("expected no sends during cooldown, got %+v", sent)
	}
	cs := mustState(t, st, "51999")
	if cs == nil || cs.State != models.StateNone {
		t.Errorf("state = %+v, want untouched none", cs)
	}
}

func TestLapsedCooldownRestartsFunnel(t *testing.T) {
	e, st, svc := newTestEngine(t, models.DomainFoundation)
	st.SaveContactState(models.ContactState{
		Contact:   "51999",
		State:     models.StateNone,
		UpdatedAt: time.Now().Add(-2 * time.Hour),
	})

	e.HandleMessage(context.Background(), models.Response{From: "51999", Body: "congreso"})

	if sent := svc.sentItems(); len(sent) == 0 {
		t.Fatal("expected the campaign sequence after the cooldown lapsed")
	}
	cs := mustState(t, st, "51999")
	if cs == nil || cs.State != models.StateFoundationModalitySelection {
		t.Errorf("state = %+v, want foundation_modality_selection", cs)
	}
}

func TestUnmatchedMessageLoggedWithoutReply(t *testing.T) {
	e, st, svc := newTestEngine(t, models.DomainAll)

	e.HandleMessage(context.Background(), models.Response{From: "51999", Body: "hola buenas tardes"})

	if sent := svc.sentItems(); len(sent) != 0 {
		t.Errorf("expected no reply, got %+v", sent)
	}
	msgs, _ := st.GetUnrecognizedMessages("51999")
	if len(msgs) != 1 || msgs[0].Body != "hola buenas tardes" {
		t.Errorf("expected logged message, got %+v", msgs)
	}
	if msgs[0].ID == "" {
		t.Error("expected a generated record id")
	}
}

// brokenStateStore fails every contact state read.
type brokenStateStore struct {
	*store.InMemoryStore
}

func (b *brokenStateStore) GetContactState(contact string) (*models.ContactState, error) {
	return nil, errors.New("connection refused")
}

func TestStateReadFailureStillMatchesKeywords(t *testing.T) {
	inner := store.NewInMemoryStore()
	testutil.SeedCatalog(t, inner)
	svc := newMockService()
	e := NewEngine(
		WithStore(&brokenStateStore{InMemoryStore: inner}),
		WithMessagingService(svc),
		WithPermissions(models.PermissionSet{Role: "bot", Domains: []models.Domain{models.DomainMembers}}),
		WithPaceDelay(0),
	)

	e.HandleMessage(context.Background(), models.Response{From: "51999", Body: "plan oro"})

	sent := svc.sentItems()
	if len(sent) == 0 {
		t.Fatal("expected the member sequence despite the failed state read")
	}
	for _, s := range sent {
		if s.body == apologyText {
			t.Fatalf("state read failure must not surface an apology, got %+v", sent)
		}
	}
	last := sent[len(sent)-1]
	if !strings.Contains(last.body, optionListHeader) {
		t.Errorf("expected the option list last, got %q", last.body)
	}
}

// raceStore injects a concurrent write between the engine's read and its
// commit, so the guarded swap must lose.
type raceStore struct {
	*store.InMemoryStore
	once   sync.Once
	winner models.ContactState
}

func (r *raceStore) GetContactState(contact string) (*models.ContactState, error) {
	cs, err := r.InMemoryStore.GetContactState(contact)
	r.once.Do(func() {
		r.InMemoryStore.SaveContactState(r.winner)
	})
	return cs, err
}

func TestStaleCommitIsDropped(t *testing.T) {
	inner := store.NewInMemoryStore()
	testutil.SeedCatalog(t, inner)
	winner := models.ContactState{
		Contact:   "51999",
		State:     models.StateFoundationPaymentSelection,
		UpdatedAt: time.Now().Add(time.Second),
	}
	st := &raceStore{InMemoryStore: inner, winner: winner}
	inner.SaveContactState(models.ContactState{
		Contact:   "51999",
		State:     models.StateFoundationModalitySelection,
		UpdatedAt: time.Now().Add(-5 * time.Minute),
	})
	svc := newMockService()
	e := NewEngine(
		WithStore(st),
		WithMessagingService(svc),
		WithPermissions(models.PermissionSet{Role: "bot", Domains: []models.Domain{models.DomainFoundation}}),
		WithPaceDelay(0),
	)

	e.HandleMessage(context.Background(), models.Response{From: "51999", Body: "vip"})

	// The prompt was sent, but the concurrent write must survive.
	cs, _ := inner.GetContactState("51999")
	if cs == nil || !cs.UpdatedAt.Equal(winner.UpdatedAt) {
		t.Errorf("concurrent write should have won, got %+v", cs)
	}
}

func TestRunConsumesResponses(t *testing.T) {
	e, st, svc := newTestEngine(t, models.DomainMembers)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go e.Run(ctx)
	svc.responses <- models.Response{From: "51999", Body: "plan oro"}

	deadline := time.After(2 * time.Second)
	for {
		if cs := mustState(t, st, "51999"); cs != nil && cs.State == models.StateMemberOptionSelection {
			break
		}
		select {
		case <-deadline:
			t.Fatal("engine did not process the queued response in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	e.Stop()
}
