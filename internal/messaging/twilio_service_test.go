package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/whatsadvisor/funnelbot/internal/models"
	"github.com/whatsadvisor/funnelbot/internal/twiliowhatsapp"
)

func TestTwilioServiceSendMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "whatsapp:+51987654321", "hola"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(mock.SentMessages))
	}
	if mock.SentMessages[0].To != "51987654321" {
		t.Errorf("expected canonicalized recipient 51987654321, got %q", mock.SentMessages[0].To)
	}
	if mock.SentMessages[0].Body != "hola" {
		t.Errorf("expected body %q, got %q", "hola", mock.SentMessages[0].Body)
	}
}

func TestTwilioServiceSendMediaRequiresURL(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	err := svc.SendMedia(context.Background(), "51987654321", models.Media{Data: []byte{0xFF}, MimeType: "image/jpeg"})
	if err == nil {
		t.Fatal("expected error for media without URL")
	}
	if len(mock.SentMedia) != 0 {
		t.Errorf("expected no media sent, got %d", len(mock.SentMedia))
	}
}

func TestTwilioServiceSendMediaByURL(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	m := models.Media{URL: "https://cdn.example.com/brochure.pdf", MimeType: "application/pdf"}
	if err := svc.SendMedia(context.Background(), "51987654321", m); err != nil {
		t.Fatalf("SendMedia failed: %v", err)
	}
	if len(mock.SentMedia) != 1 || mock.SentMedia[0].Body != m.URL {
		t.Errorf("expected media URL %q to be forwarded, got %v", m.URL, mock.SentMedia)
	}
}

func TestTwilioServiceStoppedRejectsSends(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if err := svc.SendMessage(context.Background(), "51987654321", "hola"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	if err := svc.SendMedia(context.Background(), "51987654321", models.Media{URL: "https://x/y.jpg"}); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func TestTwilioWebhookEmitsResponse(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+51987654321")
	form.Set("Body", "plan oro")
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()

	svc.WebhookHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	select {
	case resp := <-svc.Responses():
		if resp.From != "51987654321" {
			t.Errorf("expected canonicalized sender 51987654321, got %q", resp.From)
		}
		if resp.Body != "plan oro" {
			t.Errorf("expected body %q, got %q", "plan oro", resp.Body)
		}
	case <-time.After(time.Second):
		t.Fatal("no response emitted from webhook")
	}
}

func TestTwilioWebhookRejectsMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	tests := []struct {
		name string
		form url.Values
	}{
		{name: "missing body", form: url.Values{"From": {"whatsapp:+51987654321"}}},
		{name: "missing from", form: url.Values{"Body": {"hola"}}},
		{name: "invalid sender", form: url.Values{"From": {"whatsapp:abc"}, "Body": {"hola"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rr := httptest.NewRecorder()

			svc.WebhookHandler(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rr.Code)
			}
		})
	}
}
