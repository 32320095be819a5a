// Package store provides storage backends for funnelbot.
//
// It exposes read-only access to the content catalogs (membership plans,
// campaigns, options, payment method steps, schedule texts) and read/write
// access to per-contact funnel state and the unrecognized-message log.
// SQLite and PostgreSQL backends are provided, plus an in-memory store used
// by tests and catalog-less development runs.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/whatsadvisor/funnelbot/internal/models"
)

// Store is the narrow query interface the funnel engine works against.
// Catalog reads degrade to empty results on connectivity problems; the engine
// treats every error as "no data" rather than crashing.
type Store interface {
	// Catalog reads (read-only from the engine's perspective).
	GetMembershipPlans() ([]models.MembershipPlan, error)
	GetPlanOptions(planID int64) ([]models.PlanOption, error)
	GetOptionResponse(planID int64, optionNumber int) (*models.OptionResponse, error)
	GetPaymentMethods(responseID int64) ([]string, error)
	GetPaymentMethodSteps(responseID int64, method string) ([]models.PaymentMethodStep, error)
	GetScheduleText(responseID int64, condition models.ScheduleCondition) (*models.ScheduleText, error)
	GetCampaigns() ([]models.Campaign, error)
	GetWelcomeMessage() (string, error)

	// Contact state. GetContactState returns nil when no record exists.
	GetContactState(contact string) (*models.ContactState, error)
	SaveContactState(state models.ContactState) error
	// CompareAndSwapContactState writes next only if the stored record still
	// matches prev (nil prev means "no record existed"). Returns false when a
	// concurrent write won.
	CompareAndSwapContactState(next models.ContactState, prev *models.ContactState) (bool, error)
	DeleteContactState(contact string) error
	// DeleteIdleContactStates removes records in the given state older than
	// cutoff and returns how many were deleted.
	DeleteIdleContactStates(state models.StateType, cutoff time.Time) (int64, error)
	// CountContactStates returns how many contacts sit in each state.
	CountContactStates() (map[models.StateType]int, error)

	// Unrecognized-message log (append-only).
	LogUnrecognizedMessage(msg models.UnrecognizedMessage) error
	GetUnrecognizedMessages(contact string) ([]models.UnrecognizedMessage, error)

	Close() error
}

// InMemoryStore is a Store kept entirely in process memory. Catalog slices are
// seeded directly by tests; iteration order is insertion order, matching the
// "first match wins" policy.
type InMemoryStore struct {
	mu            sync.RWMutex
	Plans         []models.MembershipPlan
	Options       []models.PlanOption
	Responses     []models.OptionResponse
	Steps         []models.PaymentMethodStep
	ScheduleTexts []models.ScheduleText
	Campaigns     []models.Campaign
	WelcomeText   string
	contactStates map[string]models.ContactState
	unrecognized  []models.UnrecognizedMessage
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{contactStates: make(map[string]models.ContactState)}
}

func (s *InMemoryStore) GetMembershipPlans() ([]models.MembershipPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.MembershipPlan(nil), s.Plans...), nil
}

func (s *InMemoryStore) GetPlanOptions(planID int64) ([]models.PlanOption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var opts []models.PlanOption
	for _, o := range s.Options {
		if o.PlanID == planID {
			opts = append(opts, o)
		}
	}
	sort.Slice(opts, func(i, j int) bool { return opts[i].OptionNumber < opts[j].OptionNumber })
	return opts, nil
}

func (s *InMemoryStore) GetOptionResponse(planID int64, optionNumber int) (*models.OptionResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.Responses {
		if r.PlanID == planID && r.OptionNumber == optionNumber {
			resp := r
			return &resp, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) GetPaymentMethods(responseID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type firstStep struct {
		name  string
		order int
	}
	var firsts []firstStep
	seen := make(map[string]int)
	for _, st := range s.Steps {
		if st.ResponseID != responseID {
			continue
		}
		if idx, ok := seen[st.MethodName]; ok {
			if st.StepOrder < firsts[idx].order {
				firsts[idx].order = st.StepOrder
			}
			continue
		}
		seen[st.MethodName] = len(firsts)
		firsts = append(firsts, firstStep{name: st.MethodName, order: st.StepOrder})
	}
	sort.SliceStable(firsts, func(i, j int) bool { return firsts[i].order < firsts[j].order })
	var methods []string
	for _, f := range firsts {
		methods = append(methods, f.name)
	}
	return methods, nil
}

func (s *InMemoryStore) GetPaymentMethodSteps(responseID int64, method string) ([]models.PaymentMethodStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var steps []models.PaymentMethodStep
	for _, st := range s.Steps {
		if st.ResponseID == responseID && st.MethodName == method {
			steps = append(steps, st)
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
	return steps, nil
}

func (s *InMemoryStore) GetScheduleText(responseID int64, condition models.ScheduleCondition) (*models.ScheduleText, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.ScheduleTexts {
		if st.ResponseID == responseID && st.Condition == condition {
			text := st
			return &text, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) GetCampaigns() ([]models.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Campaign(nil), s.Campaigns...), nil
}

func (s *InMemoryStore) GetWelcomeMessage() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.WelcomeText, nil
}

func (s *InMemoryStore) GetContactState(contact string) (*models.ContactState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.contactStates[contact]
	if !ok {
		return nil, nil
	}
	return &cs, nil
}

func (s *InMemoryStore) SaveContactState(state models.ContactState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contactStates[state.Contact] = state
	return nil
}

func (s *InMemoryStore) CompareAndSwapContactState(next models.ContactState, prev *models.ContactState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.contactStates[next.Contact]
	if prev == nil {
		if exists {
			return false, nil
		}
	} else {
		if !exists || current.State != prev.State || !current.UpdatedAt.Equal(prev.UpdatedAt) {
			return false, nil
		}
	}
	s.contactStates[next.Contact] = next
	return true, nil
}

func (s *InMemoryStore) DeleteContactState(contact string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contactStates, contact)
	return nil
}

func (s *InMemoryStore) DeleteIdleContactStates(state models.StateType, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for contact, cs := range s.contactStates {
		if cs.State == state && cs.UpdatedAt.Before(cutoff) {
			delete(s.contactStates, contact)
			deleted++
		}
	}
	return deleted, nil
}

func (s *InMemoryStore) CountContactStates() (map[models.StateType]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[models.StateType]int)
	for _, cs := range s.contactStates {
		counts[cs.State]++
	}
	return counts, nil
}

func (s *InMemoryStore) LogUnrecognizedMessage(msg models.UnrecognizedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unrecognized = append(s.unrecognized, msg)
	return nil
}

func (s *InMemoryStore) GetUnrecognizedMessages(contact string) ([]models.UnrecognizedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var msgs []models.UnrecognizedMessage
	for _, m := range s.unrecognized {
		if contact == "" || m.Contact == contact {
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
