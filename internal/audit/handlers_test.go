package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rasuna-dev/backend-antar/internal/common"
)

type listStore struct {
	stubStore
	receivedLimit  int
	receivedOffset int
}

func (l *listStore) ListEntries(_ context.Context, limit, offset int) ([]Entry, int64, error) {
	l.receivedLimit = limit
	l.receivedOffset = offset
	return []Entry{{Action: "TEST", Method: "GET"}}, 1, nil
}

func TestHandlerList(t *testing.T) {
	store := &listStore{}
	h := Handler{Store: store}
	req := httptest.NewRequest(http.MethodGet, "/audit-logs?page=2&limit=25", nil)
	rr := httptest.NewRecorder()
	h.List(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if store.receivedLimit != 25 || store.receivedOffset != 25 {
		t.Fatalf("unexpected pagination params: %d/%d", store.receivedLimit, store.receivedOffset)
	}
	var payload struct {
		Data       []map[string]any `json:"data"`
		Pagination struct {
			Page       int `json:"page"`
			PerPage    int `json:"per_page"`
			TotalItems int `json:"total_items"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Data) != 1 {
		t.Fatalf("expected one entry, got %d", len(payload.Data))
	}
	if payload.Pagination.TotalItems != 1 || payload.Pagination.Page != 2 {
		t.Fatalf("unexpected pagination: %+v", payload.Pagination)
	}
}

func TestMiddlewareDerivesDriverActor(t *testing.T) {
	store := &stubStore{}
	svc := &Service{Store: store, Enabled: true}
	recorder := HTTPRecorder{Service: svc}

	handler := recorder.Middleware(HTTPConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/deliveries", nil)
	req = req.WithContext(common.WithDriverID(req.Context(), "0b918272-5a63-4716-9ad9-3bd266b2b0a4"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if !store.called {
		t.Fatal("expected audit entry")
	}
	if store.lastInsert.ActorKind != string(ActorKindDriver) {
		t.Fatalf("unexpected actor kind: %s", store.lastInsert.ActorKind)
	}
	if store.lastInsert.Status != http.StatusAccepted {
		t.Fatalf("unexpected status: %d", store.lastInsert.Status)
	}
}
