// Package testutil provides common test utilities and helpers for funnelbot tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/whatsadvisor/funnelbot/internal/models"
	"github.com/whatsadvisor/funnelbot/internal/store"
)

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// SeedCatalog fills an in-memory store with a small but complete catalog: one
// membership plan with options and payment methods, one campaign with both
// payment branches, and schedule texts.
func SeedCatalog(t *testing.T, st *store.InMemoryStore) {
	t.Helper()

	st.Plans = []models.MembershipPlan{
		{
			ID:           1,
			Name:         "Plan Oro",
			PostMediaRef: "uploads/plan-oro.jpg",
			BenefitText:  "Beneficios del Plan Oro",
			PDFMediaRef:  "uploads/plan-oro.pdf",
			Price:        "S/ 100",
		},
	}
	st.Options = []models.PlanOption{
		{PlanID: 1, OptionNumber: 1, OptionText: "Quiero pagar"},
		{PlanID: 1, OptionNumber: 2, OptionText: "Horarios de atención"},
	}
	st.Responses = []models.OptionResponse{
		{ID: 10, PlanID: 1, OptionNumber: 1, Kind: models.ResponseKindSubmenu, Message: ""},
		{ID: 11, PlanID: 1, OptionNumber: 2, Kind: models.ResponseKindSchedule, Message: "Te atenderemos pronto."},
	}
	st.Steps = []models.PaymentMethodStep{
		{ResponseID: 10, MethodName: "tarjeta", StepOrder: 1, Kind: models.StepKindText, Content: "Paga con tarjeta aquí"},
		{ResponseID: 10, MethodName: "tarjeta", StepOrder: 2, Kind: models.StepKindText, Content: "Confirma tu pago"},
		{ResponseID: 10, MethodName: "yape", StepOrder: 1, Kind: models.StepKindText, Content: "Yapea al 999"},
		{ResponseID: 10, MethodName: "yape", StepOrder: 2, Kind: models.StepKindImage, Content: "uploads/yape-qr.jpg"},
	}
	st.ScheduleTexts = []models.ScheduleText{
		{ResponseID: 11, Condition: models.ScheduleWithin, Message: "Estamos en horario de atención."},
		{ResponseID: 11, Condition: models.ScheduleOutside, Message: "Te responderemos en horario de oficina."},
	}
	st.Campaigns = []models.Campaign{
		{
			ID:                1,
			Keywords:          []string{"congreso", "fundacion"},
			WelcomeText:       "¡Bienvenido al congreso!",
			PresentationMedia: "uploads/congreso.jpg",
			SessionText:       "Sesiones en vivo cada semana",
			FinalText:         "Responde con tu modalidad: 1, 2, 3 o 4",
			PaymentPrompt:     "¿Cómo deseas pagar? 1. Yape 2. Tarjeta",
			YapeTextOne:       "Yapea al número 999",
			YapeImageRef:      "uploads/yape.jpg",
			YapeTextTwo:       "Envíanos tu constancia",
			CardTextOne:       "Paga con tarjeta en este enlace",
			CardTextTwo:       "Recibirás tu confirmación",
		},
	}
	st.WelcomeText = "Hola, gracias por escribirnos."
}

// FixedClock returns a clock function pinned to t0.
func FixedClock(t0 time.Time) func() time.Time {
	return func() time.Time { return t0 }
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
