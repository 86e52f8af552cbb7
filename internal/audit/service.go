package audit

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rasuna-dev/backend-antar/internal/common"
	"github.com/rasuna-dev/backend-antar/internal/obs"
)

// ActorKind represents the source of an audited action.
type ActorKind string

const (
	// ActorKindDriver represents an authenticated driver or dispatcher.
	ActorKindDriver ActorKind = "driver"
	// ActorKindSystem represents internal automated actions.
	ActorKindSystem ActorKind = "system"
	// ActorKindAnonymous represents unauthenticated actors.
	ActorKindAnonymous ActorKind = "anonymous"
)

// Actor describes the entity performing the action.
type Actor struct {
	Kind     ActorKind
	DriverID *uuid.UUID
}

// Entry is one recorded admin action. Empty string fields are stored as NULL.
type Entry struct {
	ID            int64           `json:"id"`
	ActorKind     string          `json:"actorKind"`
	ActorDriverID *uuid.UUID      `json:"actorDriverId,omitempty"`
	Action        string          `json:"action"`
	ResourceType  string          `json:"resourceType"`
	ResourceID    string          `json:"resourceId,omitempty"`
	Method        string          `json:"method"`
	Path          string          `json:"path"`
	Route         string          `json:"route,omitempty"`
	Status        int             `json:"status"`
	IP            string          `json:"ip,omitempty"`
	UserAgent     string          `json:"userAgent,omitempty"`
	RequestID     string          `json:"requestId,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	RecordedAt    time.Time       `json:"recordedAt"`
}

// Store defines the database operations required for auditing.
type Store interface {
	InsertEntry(ctx context.Context, entry Entry) error
	ListEntries(ctx context.Context, limit, offset int) ([]Entry, int64, error)
}

// Service persists an audit trail for privileged flows: dispatcher
// assignments, cancellations, webhook configuration and replays.
type Service struct {
	Store        Store
	Enabled      bool
	SamplingRate float64
}

// Record persists an audit entry when auditing is enabled.
func (s Service) Record(ctx context.Context, actor Actor, action, resourceType, resourceID string, req *http.Request, status int, metadata []byte) error {
	if !s.Enabled {
		return nil
	}
	if s.SamplingRate > 0 && s.SamplingRate < 1 {
		if rand.Float64() > s.SamplingRate {
			return nil
		}
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}

	route := obs.RoutePatternFromContext(req.Context())
	if route == "" {
		route = strings.TrimSpace(req.URL.Path)
	}

	finalStatus := status
	if finalStatus == 0 {
		finalStatus = http.StatusOK
	}

	return s.Store.InsertEntry(ctx, Entry{
		ActorKind:     string(normalizeActorKind(actor.Kind)),
		ActorDriverID: actor.DriverID,
		Action:        buildAction(action, req.Method, route),
		ResourceType:  buildResource(resourceType, route),
		ResourceID:    strings.TrimSpace(resourceID),
		Method:        req.Method,
		Path:          req.URL.Path,
		Route:         route,
		Status:        finalStatus,
		IP:            common.ClientIP(req),
		UserAgent:     strings.TrimSpace(req.Header.Get("User-Agent")),
		RequestID:     strings.TrimSpace(req.Header.Get("X-Request-ID")),
		Metadata:      buildMetadata(metadata, req.URL.RawQuery),
	})
}

func buildAction(action, method, route string) string {
	trimmed := strings.TrimSpace(action)
	if trimmed != "" {
		return trimmed
	}
	base := strings.ToUpper(strings.TrimSpace(method))
	target := route
	if target == "" {
		target = "/"
	}
	return base + " " + target
}

func buildResource(resourceType, route string) string {
	trimmed := strings.TrimSpace(resourceType)
	if trimmed != "" {
		return trimmed
	}
	route = strings.Trim(route, " ")
	if route == "" {
		return "unknown"
	}
	segments := strings.Split(strings.Trim(route, "/"), "/")
	if len(segments) >= 3 && segments[0] == "api" && segments[1] == "v1" {
		return strings.Join(segments[2:], ".")
	}
	return strings.ReplaceAll(strings.Trim(route, "/"), "/", ".")
}

func normalizeActorKind(kind ActorKind) ActorKind {
	switch kind {
	case ActorKindDriver, ActorKindSystem:
		return kind
	default:
		return ActorKindAnonymous
	}
}

func buildMetadata(metadata []byte, query string) json.RawMessage {
	if len(metadata) > 0 {
		return metadata
	}
	if strings.TrimSpace(query) == "" {
		return nil
	}
	data, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil
	}
	return data
}
