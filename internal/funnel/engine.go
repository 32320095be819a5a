// Package funnel implements the conversational funnel over incoming
// WhatsApp messages: keyword recognition against the membership and
// campaign catalogs, a per-contact selection state machine, and the
// paced delivery of the configured reply sequences.
package funnel

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whatsadvisor/funnelbot/internal/match"
	"github.com/whatsadvisor/funnelbot/internal/media"
	"github.com/whatsadvisor/funnelbot/internal/messaging"
	"github.com/whatsadvisor/funnelbot/internal/models"
	"github.com/whatsadvisor/funnelbot/internal/store"
)

const (
	// StateTTL is how long a selection state stays valid. A contact whose
	// record is older than this is treated as a fresh conversation.
	StateTTL = time.Hour

	// DefaultPaceDelay separates consecutive sends to the same contact.
	DefaultPaceDelay = time.Second
)

// Opts holds configuration for an Engine.
type Opts struct {
	Store       store.Store
	Messaging   messaging.Service
	Media       *media.Resolver
	Permissions models.PermissionSet
	PaceDelay   time.Duration
	Now         func() time.Time
}

// Option configures Opts.
type Option func(*Opts)

// WithStore sets the backing store.
func WithStore(s store.Store) Option {
	return func(o *Opts) { o.Store = s }
}

// WithMessagingService sets the outbound/inbound messaging service.
func WithMessagingService(m messaging.Service) Option {
	return func(o *Opts) { o.Messaging = m }
}

// WithMediaResolver sets the resolver used to fetch referenced media.
func WithMediaResolver(r *media.Resolver) Option {
	return func(o *Opts) { o.Media = r }
}

// WithPermissions sets the domains this instance is allowed to serve.
func WithPermissions(p models.PermissionSet) Option {
	return func(o *Opts) { o.Permissions = p }
}

// WithPaceDelay overrides the delay between consecutive sends.
func WithPaceDelay(d time.Duration) Option {
	return func(o *Opts) { o.PaceDelay = d }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Engine routes incoming messages through the funnel state machine.
type Engine struct {
	st    store.Store
	msg   messaging.Service
	media *media.Resolver
	perms models.PermissionSet
	pace  time.Duration
	now   func() time.Time

	locks *contactLocks
	wg    sync.WaitGroup

	mu           sync.Mutex
	lastActivity time.Time
}

// NewEngine creates an Engine from the given options. Store and Messaging
// are required.
func NewEngine(opts ...Option) *Engine {
	o := Opts{
		PaceDelay: DefaultPaceDelay,
		Now:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{
		st:    o.Store,
		msg:   o.Messaging,
		media: o.Media,
		perms: o.Permissions,
		pace:  o.PaceDelay,
		now:   o.Now,
		locks: newContactLocks(),
	}
}

// Permissions returns the domains this engine serves.
func (e *Engine) Permissions() models.PermissionSet { return e.perms }

// LastActivity returns when the engine last handled an incoming message.
func (e *Engine) LastActivity() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastActivity
}

func (e *Engine) touch() {
	e.mu.Lock()
	e.lastActivity = e.now()
	e.mu.Unlock()
}

// Run consumes incoming responses until ctx is canceled or the channel
// closes. Each message is handled on its own goroutine; per-contact
// ordering is enforced by the contact lock, not by the channel.
func (e *Engine) Run(ctx context.Context) {
	slog.Info("funnel engine started")
	ch := e.msg.Responses()
	for {
		select {
		case <-ctx.Done():
			slog.Info("funnel engine stopping", "reason", ctx.Err())
			return
		case resp, ok := <-ch:
			if !ok {
				slog.Info("funnel engine stopping", "reason", "responses channel closed")
				return
			}
			e.wg.Add(1)
			go func(r models.Response) {
				defer e.wg.Done()
				e.HandleMessage(ctx, r)
			}(resp)
		}
	}
}

// Stop waits for in-flight message handlers to finish.
func (e *Engine) Stop() {
	e.wg.Wait()
	slog.Info("funnel engine stopped")
}

// HandleMessage evaluates one incoming message against the contact's
// current state and the catalogs, sends the resulting sequence, and
// commits the next state. The contact lock is held only while reading
// and deciding; sends run unlocked and the final state is committed
// with a compare-and-swap against the snapshot taken under the lock.
func (e *Engine) HandleMessage(ctx context.Context, resp models.Response) {
	contact := strings.TrimSpace(resp.From)
	text := match.Normalize(resp.Body)
	if contact == "" || text == "" {
		return
	}
	e.touch()

	lock := e.locks.Get(contact)
	lock.Lock()
	cs, err := e.st.GetContactState(contact)
	if err != nil {
		// Read failures degrade to "no state" so keyword matching still runs.
		slog.Error("funnel: failed to load contact state", "contact", contact, "error", err)
		cs = nil
	}

	// Expiry. An expired selection state is reset to idle and the message
	// is swallowed; the next message restarts the funnel. The old timestamp
	// is kept so the reset row does not start a fresh cooldown. An idle row
	// that has lapsed is dropped and the message evaluated fresh.
	if cs != nil && cs.IdleSince(e.now()) >= StateTTL {
		if cs.State != models.StateNone {
			reset := models.ContactState{
				Contact:   contact,
				State:     models.StateNone,
				UpdatedAt: cs.UpdatedAt,
			}
			if err := e.st.SaveContactState(reset); err != nil {
				slog.Warn("funnel: failed to reset expired state", "contact", contact, "error", err)
			}
			lock.Unlock()
			slog.Debug("funnel: expired state reset", "contact", contact, "state", cs.State)
			return
		}
		if err := e.st.DeleteContactState(contact); err != nil {
			slog.Warn("funnel: failed to delete lapsed idle state", "contact", contact, "error", err)
		}
		cs = nil
	}

	prev := snapshot(cs)
	lock.Unlock()

	switch {
	case cs != nil && cs.State == models.StatePaymentMethodSelection:
		e.handlePaymentSelection(ctx, contact, text, prev)
	case cs != nil && cs.State == models.StateMemberOptionSelection:
		e.handleOptionSelection(ctx, contact, text, prev)
	default:
		e.evaluateKeywords(ctx, contact, text, cs, prev)
	}
}

// evaluateKeywords runs the lower half of the ladder: plan keywords for the
// members domain, then the foundation selection states and campaign keywords,
// each gated by the instance permissions. A denied domain falls through
// silently. Note the plan lookup runs even for contacts in a foundation state
// or cooldown; only campaign matching is suppressed by them.
func (e *Engine) evaluateKeywords(ctx context.Context, contact, text string, cs, prev *models.ContactState) {
	if e.perms.Allows(models.DomainMembers) {
		plans, err := e.st.GetMembershipPlans()
		if err != nil {
			slog.Error("funnel: failed to load membership plans", "contact", contact, "error", err)
			plans = nil
		}
		vocabs := make([][]string, len(plans))
		for i, p := range plans {
			vocabs[i] = p.Keywords()
		}
		if idx, ok := match.Keywords(text, vocabs); ok {
			e.runPlanSequence(ctx, contact, plans[idx], prev)
			return
		}
	}

	if e.perms.Allows(models.DomainFoundation) {
		switch {
		case cs != nil && cs.State == models.StateFoundationModalitySelection:
			e.handleModalitySelection(ctx, contact, text, prev)
			return
		case cs != nil && cs.State == models.StateFoundationPaymentSelection:
			e.handleFoundationPayment(ctx, contact, text, prev)
			return
		case cs != nil && cs.State == models.StateNone:
			// Recently finished a sequence. Stay quiet until the record
			// lapses so follow-up chatter does not restart the funnel.
			slog.Debug("funnel: contact in cooldown", "contact", contact)
			return
		}

		campaigns, err := e.st.GetCampaigns()
		if err != nil {
			slog.Error("funnel: failed to load campaigns", "contact", contact, "error", err)
			campaigns = nil
		}
		vocabs := make([][]string, len(campaigns))
		for i, c := range campaigns {
			vocabs[i] = c.Keywords
		}
		if idx, ok := match.Keywords(text, vocabs); ok {
			e.runCampaignSequence(ctx, contact, campaigns[idx], prev)
			return
		}
	}

	e.logUnrecognized(contact, text)
}

// logUnrecognized records a message no rule matched. The contact gets no
// reply; the record feeds the review endpoint.
func (e *Engine) logUnrecognized(contact, text string) {
	msg := models.UnrecognizedMessage{
		ID:      uuid.NewString(),
		Contact: contact,
		Body:    text,
		Time:    e.now(),
	}
	if err := e.st.LogUnrecognizedMessage(msg); err != nil {
		slog.Error("funnel: failed to log unrecognized message", "contact", contact, "error", err)
		return
	}
	slog.Info("funnel: unrecognized message logged", "contact", contact)
}

// commit writes next as the contact's state, guarded by the snapshot
// taken before the sends. Losing the race means another handler already
// advanced the contact; the late result is dropped.
func (e *Engine) commit(contact string, next models.ContactState, prev *models.ContactState) {
	ok, err := e.st.CompareAndSwapContactState(next, prev)
	if err != nil {
		slog.Error("funnel: failed to commit contact state", "contact", contact, "error", err)
		return
	}
	if !ok {
		slog.Warn("funnel: state superseded by concurrent handler", "contact", contact)
	}
}

// cooldown commits an idle record so follow-up chatter stays quiet until
// the record expires.
func (e *Engine) cooldown(contact string, prev *models.ContactState) {
	next := models.ContactState{
		Contact:   contact,
		State:     models.StateNone,
		UpdatedAt: e.now(),
	}
	e.commit(contact, next, prev)
}

func snapshot(cs *models.ContactState) *models.ContactState {
	if cs == nil {
		return nil
	}
	cp := *cs
	return &cp
}

// sendText sends a single text message, logging failures.
func (e *Engine) sendText(ctx context.Context, to, body string) bool {
	if body == "" {
		return false
	}
	if err := e.msg.SendMessage(ctx, to, body); err != nil {
		slog.Error("funnel: failed to send message", "to", to, "error", err)
		return false
	}
	return true
}

// sendMediaRef resolves a media reference and sends it. When the media
// cannot be fetched the contact gets a short unavailability notice and
// the sequence continues.
func (e *Engine) sendMediaRef(ctx context.Context, to, ref string) bool {
	if ref == "" {
		return false
	}
	if e.media == nil {
		slog.Warn("funnel: media resolver not configured", "ref", ref)
		e.sendText(ctx, to, imageUnavailableText)
		return false
	}
	m, err := e.media.Resolve(ctx, ref)
	if err != nil {
		slog.Warn("funnel: failed to resolve media", "ref", ref, "error", err)
		if strings.HasSuffix(strings.ToLower(ref), ".pdf") {
			e.sendText(ctx, to, documentUnavailableText)
		} else {
			e.sendText(ctx, to, imageUnavailableText)
		}
		return false
	}
	if err := e.msg.SendMedia(ctx, to, *m); err != nil {
		slog.Error("funnel: failed to send media", "to", to, "ref", ref, "error", err)
		e.sendText(ctx, to, sendErrorText)
		return false
	}
	return true
}

// pause waits the pacing delay between consecutive sends.
func (e *Engine) pause(ctx context.Context) {
	if e.pace <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(e.pace):
	}
}
