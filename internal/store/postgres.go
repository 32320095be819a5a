// PostgreSQL-backed store.

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/whatsadvisor/funnelbot/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetMembershipPlans() ([]models.MembershipPlan, error) {
	rows, err := s.db.Query(`SELECT id, name, post_media_ref, benefit_text, pdf_media_ref, price FROM membership_plans ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore GetMembershipPlans query failed", "error", err)
		return nil, fmt.Errorf("failed to query membership plans: %w", err)
	}
	defer rows.Close()

	var plans []models.MembershipPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			slog.Error("PostgresStore GetMembershipPlans scan failed", "error", err)
			return nil, err
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plan rows: %w", err)
	}
	slog.Debug("PostgresStore GetMembershipPlans succeeded", "count", len(plans))
	return plans, nil
}

func (s *PostgresStore) GetPlanOptions(planID int64) ([]models.PlanOption, error) {
	rows, err := s.db.Query(`SELECT plan_id, option_number, option_text FROM plan_options WHERE plan_id = $1 ORDER BY option_number`, planID)
	if err != nil {
		slog.Error("PostgresStore GetPlanOptions query failed", "error", err, "planID", planID)
		return nil, fmt.Errorf("failed to query plan options: %w", err)
	}
	defer rows.Close()

	var opts []models.PlanOption
	for rows.Next() {
		var o models.PlanOption
		if err := rows.Scan(&o.PlanID, &o.OptionNumber, &o.OptionText); err != nil {
			return nil, err
		}
		opts = append(opts, o)
	}
	return opts, rows.Err()
}

func (s *PostgresStore) GetOptionResponse(planID int64, optionNumber int) (*models.OptionResponse, error) {
	var r models.OptionResponse
	var message sql.NullString
	err := s.db.QueryRow(`SELECT id, plan_id, option_number, kind, message FROM option_responses WHERE plan_id = $1 AND option_number = $2`,
		planID, optionNumber).Scan(&r.ID, &r.PlanID, &r.OptionNumber, &r.Kind, &message)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetOptionResponse failed", "error", err, "planID", planID)
		return nil, err
	}
	r.Message = message.String
	return &r, nil
}

func (s *PostgresStore) GetPaymentMethods(responseID int64) ([]string, error) {
	rows, err := s.db.Query(`SELECT method_name FROM payment_method_steps WHERE response_id = $1 GROUP BY method_name ORDER BY MIN(step_order)`, responseID)
	if err != nil {
		slog.Error("PostgresStore GetPaymentMethods query failed", "error", err, "responseID", responseID)
		return nil, fmt.Errorf("failed to query payment methods: %w", err)
	}
	defer rows.Close()

	var methods []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

func (s *PostgresStore) GetPaymentMethodSteps(responseID int64, method string) ([]models.PaymentMethodStep, error) {
	rows, err := s.db.Query(`SELECT response_id, method_name, step_order, kind, content FROM payment_method_steps WHERE response_id = $1 AND method_name = $2 ORDER BY step_order`,
		responseID, method)
	if err != nil {
		slog.Error("PostgresStore GetPaymentMethodSteps query failed", "error", err, "responseID", responseID, "method", method)
		return nil, fmt.Errorf("failed to query payment method steps: %w", err)
	}
	defer rows.Close()

	var steps []models.PaymentMethodStep
	for rows.Next() {
		var st models.PaymentMethodStep
		if err := rows.Scan(&st.ResponseID, &st.MethodName, &st.StepOrder, &st.Kind, &st.Content); err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func (s *PostgresStore) GetScheduleText(responseID int64, condition models.ScheduleCondition) (*models.ScheduleText, error) {
	var st models.ScheduleText
	err := s.db.QueryRow(`SELECT response_id, condition, message FROM schedule_texts WHERE response_id = $1 AND condition = $2`,
		responseID, condition).Scan(&st.ResponseID, &st.Condition, &st.Message)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetScheduleText failed", "error", err, "responseID", responseID, "condition", condition)
		return nil, err
	}
	return &st, nil
}

func (s *PostgresStore) GetCampaigns() ([]models.Campaign, error) {
	rows, err := s.db.Query(`SELECT id, keywords, welcome_text, presentation_media, brochure_media, modality_media_a, modality_media_b,
		session_text, investment_media, final_text, payment_prompt, yape_text_one, yape_image_ref, yape_text_two, card_text_one, card_text_two
		FROM campaigns ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore GetCampaigns query failed", "error", err)
		return nil, fmt.Errorf("failed to query campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		c, ok, err := scanCampaign(rows)
		if err != nil {
			slog.Error("PostgresStore GetCampaigns scan failed", "error", err)
			return nil, err
		}
		if !ok {
			continue
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate campaign rows: %w", err)
	}
	slog.Debug("PostgresStore GetCampaigns succeeded", "count", len(campaigns))
	return campaigns, nil
}

func (s *PostgresStore) GetWelcomeMessage() (string, error) {
	var msg sql.NullString
	err := s.db.QueryRow(`SELECT welcome_message FROM configurations ORDER BY id DESC LIMIT 1`).Scan(&msg)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("PostgresStore GetWelcomeMessage failed", "error", err)
		return "", err
	}
	return msg.String, nil
}

func (s *PostgresStore) GetContactState(contact string) (*models.ContactState, error) {
	var cs models.ContactState
	var ref int64
	err := s.db.QueryRow(`SELECT contact, state, ref_id, updated_at FROM contact_states WHERE contact = $1`, contact).
		Scan(&cs.Contact, &cs.State, &ref, &cs.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetContactState failed", "error", err, "contact", contact)
		return nil, err
	}
	applyRefID(&cs, ref)
	return &cs, nil
}

func (s *PostgresStore) SaveContactState(state models.ContactState) error {
	_, err := s.db.Exec(`INSERT INTO contact_states (contact, state, ref_id, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (contact) DO UPDATE SET state = EXCLUDED.state, ref_id = EXCLUDED.ref_id, updated_at = EXCLUDED.updated_at`,
		state.Contact, state.State, refIDFor(state), state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveContactState failed", "error", err, "contact", state.Contact, "state", state.State)
		return fmt.Errorf("failed to save contact state for %s: %w", state.Contact, err)
	}
	slog.Debug("PostgresStore SaveContactState succeeded", "contact", state.Contact, "state", state.State)
	return nil
}

func (s *PostgresStore) CompareAndSwapContactState(next models.ContactState, prev *models.ContactState) (bool, error) {
	var res sql.Result
	var err error
	if prev == nil {
		res, err = s.db.Exec(`INSERT INTO contact_states (contact, state, ref_id, updated_at) VALUES ($1, $2, $3, $4) ON CONFLICT (contact) DO NOTHING`,
			next.Contact, next.State, refIDFor(next), next.UpdatedAt)
	} else {
		res, err = s.db.Exec(`UPDATE contact_states SET state = $1, ref_id = $2, updated_at = $3 WHERE contact = $4 AND state = $5 AND updated_at = $6`,
			next.State, refIDFor(next), next.UpdatedAt, next.Contact, prev.State, prev.UpdatedAt)
	}
	if err != nil {
		slog.Error("PostgresStore CompareAndSwapContactState failed", "error", err, "contact", next.Contact)
		return false, fmt.Errorf("failed to swap contact state for %s: %w", next.Contact, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		slog.Debug("PostgresStore CompareAndSwapContactState lost race", "contact", next.Contact, "state", next.State)
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) DeleteContactState(contact string) error {
	_, err := s.db.Exec(`DELETE FROM contact_states WHERE contact = $1`, contact)
	if err != nil {
		slog.Error("PostgresStore DeleteContactState failed", "error", err, "contact", contact)
		return err
	}
	return nil
}

func (s *PostgresStore) DeleteIdleContactStates(state models.StateType, cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM contact_states WHERE state = $1 AND updated_at < $2`, state, cutoff)
	if err != nil {
		slog.Error("PostgresStore DeleteIdleContactStates failed", "error", err, "state", state)
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("PostgresStore deleted idle contact states", "count", n, "state", state)
	}
	return n, nil
}

func (s *PostgresStore) CountContactStates() (map[models.StateType]int, error) {
	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM contact_states GROUP BY state`)
	if err != nil {
		slog.Error("PostgresStore CountContactStates query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.StateType]int)
	for rows.Next() {
		var state models.StateType
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) LogUnrecognizedMessage(msg models.UnrecognizedMessage) error {
	_, err := s.db.Exec(`INSERT INTO unrecognized_messages (id, contact, body, time) VALUES ($1, $2, $3, $4)`,
		msg.ID, msg.Contact, msg.Body, msg.Time)
	if err != nil {
		slog.Error("PostgresStore LogUnrecognizedMessage failed", "error", err, "contact", msg.Contact)
		return fmt.Errorf("failed to log unrecognized message from %s: %w", msg.Contact, err)
	}
	return nil
}

func (s *PostgresStore) GetUnrecognizedMessages(contact string) ([]models.UnrecognizedMessage, error) {
	query := `SELECT id, contact, body, time FROM unrecognized_messages`
	args := []interface{}{}
	if contact != "" {
		query += ` WHERE contact = $1`
		args = append(args, contact)
	}
	query += ` ORDER BY time`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore GetUnrecognizedMessages query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	var msgs []models.UnrecognizedMessage
	for rows.Next() {
		var m models.UnrecognizedMessage
		if err := rows.Scan(&m.ID, &m.Contact, &m.Body, &m.Time); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
