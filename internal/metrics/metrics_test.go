package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordGenerated(t *testing.T) {
	before := testutil.ToFloat64(remindersGenerated.WithLabelValues("MORNING"))
	RecordGenerated("MORNING", 3)
	after := testutil.ToFloat64(remindersGenerated.WithLabelValues("MORNING"))
	if after-before != 3 {
		t.Errorf("expected +3 generated, got %v", after-before)
	}
}

func TestRecordSlotClaim(t *testing.T) {
	before := testutil.ToFloat64(slotClaims.WithLabelValues("won"))
	RecordSlotClaim("won")
	RecordSlotClaim("lost")
	if got := testutil.ToFloat64(slotClaims.WithLabelValues("won")) - before; got != 1 {
		t.Errorf("expected one won claim, got %v", got)
	}
}

func TestSetPending(t *testing.T) {
	SetPending(7)
	if got := testutil.ToFloat64(pendingSize); got != 7 {
		t.Errorf("expected gauge 7, got %v", got)
	}
	SetPending(0)
	if got := testutil.ToFloat64(pendingSize); got != 0 {
		t.Errorf("expected gauge 0, got %v", got)
	}
}

func TestRecorders(t *testing.T) {
	RecordRequest("GET", "/v1/reminders/pending", 200, 10*time.Millisecond)
	RecordDispatch("EVENING", "sent")
	RecordDelivery("whatsapp", "delivered", 300*time.Millisecond)
	RecordConfirmation("chat", "confirmed")
	RecordResend()
	RecordStoreError("add_pending")
	RecordRateLimitRejection("/webhooks/whatsapp")
	SetCircuitState("messenger", 2)
}

func TestHandler(t *testing.T) {
	RecordResend()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "medreminder_resends_total") {
		t.Error("metrics output should include medreminder_resends_total")
	}
}

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Post("/v1/reminders/{id}/confirm", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "/v1/reminders/{id}/confirm", "201"))

	req := httptest.NewRequest("POST", "/v1/reminders/2026-10-19-MORNING-timolol/confirm", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "/v1/reminders/{id}/confirm", "201"))
	if after-before != 1 {
		t.Errorf("expected request counted under route pattern, delta %v", after-before)
	}
}

func TestResponseWriter_DefaultStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.Write([]byte("test"))

	if rw.status != http.StatusOK {
		t.Errorf("expected default status 200, got %d", rw.status)
	}
}

func TestResponseWriter_ExplicitStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)

	if rw.status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rw.status)
	}
}
