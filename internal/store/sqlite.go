// SQLite-backed store.

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/whatsadvisor/funnelbot/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetMembershipPlans() ([]models.MembershipPlan, error) {
	rows, err := s.db.Query(`SELECT id, name, post_media_ref, benefit_text, pdf_media_ref, price FROM membership_plans ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore GetMembershipPlans query failed", "error", err)
		return nil, fmt.Errorf("failed to query membership plans: %w", err)
	}
	defer rows.Close()

	var plans []models.MembershipPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			slog.Error("SQLiteStore GetMembershipPlans scan failed", "error", err)
			return nil, err
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plan rows: %w", err)
	}
	slog.Debug("SQLiteStore GetMembershipPlans succeeded", "count", len(plans))
	return plans, nil
}

func (s *SQLiteStore) GetPlanOptions(planID int64) ([]models.PlanOption, error) {
	rows, err := s.db.Query(`SELECT plan_id, option_number, option_text FROM plan_options WHERE plan_id = ? ORDER BY option_number`, planID)
	if err != nil {
		slog.Error("SQLiteStore GetPlanOptions query failed", "error", err, "planID", planID)
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

func (s *SQLiteStore) GetOptionResponse(planID int64, optionNumber int) (*models.OptionResponse, error) {
	var r models.OptionResponse
	var message sql.NullString
	err := s.db.QueryRow(`SELECT id, plan_id, option_number, kind, message FROM option_responses WHERE plan_id = ? AND option_number = ?`,
		planID, optionNumber).Scan(&r.ID, &r.PlanID, &r.OptionNumber, &r.Kind, &message)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetOptionResponse not found", "planID", planID, "option", optionNumber)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetOptionResponse failed", "error", err, "planID", planID)
		return nil, err
	}
	r.Message = message.String
	return &r, nil
}

func (s *SQLiteStore) GetPaymentMethods(responseID int64) ([]string, error) {
	rows, err := s.db.Query(`SELECT method_name FROM payment_method_steps WHERE response_id = ? GROUP BY method_name ORDER BY MIN(step_order)`, responseID)
	if err != nil {
		slog.Error("SQLiteStore GetPaymentMethods query failed", "error", err, "responseID", responseID)
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

func (s *SQLiteStore) GetPaymentMethodSteps(responseID int64, method string) ([]models.PaymentMethodStep, error) {
	rows, err := s.db.Query(`SELECT response_id, method_name, step_order, kind, content FROM payment_method_steps WHERE response_id = ? AND method_name = ? ORDER BY step_order`,
		responseID, method)
	if err != nil {
		slog.Error("SQLiteStore GetPaymentMethodSteps query failed", "error", err, "responseID", responseID, "method", method)
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

func (s *SQLiteStore) GetScheduleText(responseID int64, condition models.ScheduleCondition) (*models.ScheduleText, error) {
	var st models.ScheduleText
	err := s.db.QueryRow(`SELECT response_id, condition, message FROM schedule_texts WHERE response_id = ? AND condition = ?`,
		responseID, condition).Scan(&st.ResponseID, &st.Condition, &st.Message)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetScheduleText failed", "error", err, "responseID", responseID, "condition", condition)
		return nil, err
	}
	return &st, nil
}

func (s *SQLiteStore) GetCampaigns() ([]models.Campaign, error) {
	rows, err := s.db.Query(`SELECT id, keywords, welcome_text, presentation_media, brochure_media, modality_media_a, modality_media_b,
		session_text, investment_media, final_text, payment_prompt, yape_text_one, yape_image_ref, yape_text_two, card_text_one, card_text_two
		FROM campaigns ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore GetCampaigns query failed", "error", err)
		return nil, fmt.Errorf("failed to query campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		c, ok, err := scanCampaign(rows)
		if err != nil {
			slog.Error("SQLiteStore GetCampaigns scan failed", "error", err)
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
	slog.Debug("SQLiteStore GetCampaigns succeeded", "count", len(campaigns))
	return campaigns, nil
}

func (s *SQLiteStore) GetWelcomeMessage() (string, error) {
	var msg sql.NullString
	err := s.db.QueryRow(`SELECT welcome_message FROM configurations ORDER BY id DESC LIMIT 1`).Scan(&msg)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetWelcomeMessage failed", "error", err)
		return "", err
	}
	return msg.String, nil
}

func (s *SQLiteStore) GetContactState(contact string) (*models.ContactState, error) {
	var cs models.ContactState
	var ref int64
	err := s.db.QueryRow(`SELECT contact, state, ref_id, updated_at FROM contact_states WHERE contact = ?`, contact).
		Scan(&cs.Contact, &cs.State, &ref, &cs.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetContactState not found", "contact", contact)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetContactState failed", "error", err, "contact", contact)
		return nil, err
	}
	applyRefID(&cs, ref)
	return &cs, nil
}

func (s *SQLiteStore) SaveContactState(state models.ContactState) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO contact_states (contact, state, ref_id, updated_at) VALUES (?, ?, ?, ?)`,
		state.Contact, state.State, refIDFor(state), state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveContactState failed", "error", err, "contact", state.Contact, "state", state.State)
		return fmt.Errorf("failed to save contact state for %s: %w", state.Contact, err)
	}
	slog.Debug("SQLiteStore SaveContactState succeeded", "contact", state.Contact, "state", state.State)
	return nil
}

func (s *SQLiteStore) CompareAndSwapContactState(next models.ContactState, prev *models.ContactState) (bool, error) {
	var res sql.Result
	var err error
	if prev == nil {
		res, err = s.db.Exec(`INSERT OR IGNORE INTO contact_states (contact, state, ref_id, updated_at) VALUES (?, ?, ?, ?)`,
			next.Contact, next.State, refIDFor(next), next.UpdatedAt)
	} else {
		res, err = s.db.Exec(`UPDATE contact_states SET state = ?, ref_id = ?, updated_at = ? WHERE contact = ? AND state = ? AND updated_at = ?`,
			next.State, refIDFor(next), next.UpdatedAt, next.Contact, prev.State, prev.UpdatedAt)
	}
	if err != nil {
		slog.Error("SQLiteStore CompareAndSwapContactState failed", "error", err, "contact", next.Contact)
		return false, fmt.Errorf("failed to swap contact state for %s: %w", next.Contact, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		slog.Debug("SQLiteStore CompareAndSwapContactState lost race", "contact", next.Contact, "state", next.State)
		return false, nil
	}
	return true, nil
}

func (s *SQLiteStore) DeleteContactState(contact string) error {
	_, err := s.db.Exec(`DELETE FROM contact_states WHERE contact = ?`, contact)
	if err != nil {
		slog.Error("SQLiteStore DeleteContactState failed", "error", err, "contact", contact)
		return err
	}
	slog.Debug("SQLiteStore DeleteContactState succeeded", "contact", contact)
	return nil
}

func (s *SQLiteStore) DeleteIdleContactStates(state models.StateType, cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM contact_states WHERE state = ? AND updated_at < ?`, state, cutoff)
	if err != nil {
		slog.Error("SQLiteStore DeleteIdleContactStates failed", "error", err, "state", state)
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("SQLiteStore deleted idle contact states", "count", n, "state", state)
	}
	return n, nil
}

func (s *SQLiteStore) CountContactStates() (map[models.StateType]int, error) {
	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM contact_states GROUP BY state`)
	if err != nil {
		slog.Error("SQLiteStore CountContactStates query failed", "error", err)
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

func (s *SQLiteStore) LogUnrecognizedMessage(msg models.UnrecognizedMessage) error {
	_, err := s.db.Exec(`INSERT INTO unrecognized_messages (id, contact, body, time) VALUES (?, ?, ?, ?)`,
		msg.ID, msg.Contact, msg.Body, msg.Time)
	if err != nil {
		slog.Error("SQLiteStore LogUnrecognizedMessage failed", "error", err, "contact", msg.Contact)
		return fmt.Errorf("failed to log unrecognized message from %s: %w", msg.Contact, err)
	}
	return nil
}

func (s *SQLiteStore) GetUnrecognizedMessages(contact string) ([]models.UnrecognizedMessage, error) {
	query := `SELECT id, contact, body, time FROM unrecognized_messages`
	args := []interface{}{}
	if contact != "" {
		query += ` WHERE contact = ?`
		args = append(args, contact)
	}
	query += ` ORDER BY time`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore GetUnrecognizedMessages query failed", "error", err)
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

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
