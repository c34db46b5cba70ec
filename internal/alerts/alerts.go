// Package alerts creates and stores alerts for users. Correlation feeds
// it with asset-relevant CTI; every created alert is also announced on
// the event bus for notification consumers, without failing the create
// when the bus is down.
package alerts

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/c4a/ctiwatch/internal/bus"
	"github.com/c4a/ctiwatch/internal/directory"
	"github.com/c4a/ctiwatch/internal/docstore"
)

// Collection is the docstore collection alerts are persisted in.
const Collection = "alerts"

// Type grades an alert's urgency.
type Type string

const (
	TypeCritical Type = "CRITICAL"
	TypeWarning  Type = "WARNING"
	TypeInfo     Type = "INFO"
)

// Severity mirrors alert type into the severity vocabulary shared with
// downstream consumers.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// Status tracks an alert through triage.
type Status string

const (
	StatusPending      Status = "pending"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Alert is a notification about a CTI item relevant to a user's assets.
type Alert struct {
	ID             string                 `json:"id,omitempty"`
	UserID         string                 `json:"userId"`
	OrganizationID string                 `json:"organizationId"`
	Type           Type                   `json:"type"`
	Severity       Severity               `json:"severity"`
	Status         Status                 `json:"status"`
	Title          string                 `json:"title"`
	Description    string                 `json:"description,omitempty"`
	Source         string                 `json:"source"`
	AssetID        string                 `json:"assetId,omitempty"`
	CVEIDs         []string               `json:"cveIds,omitempty"`
	Tactics        []string               `json:"tactics,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"createdAt,omitempty"`
}

// CreateInput is the caller-supplied part of a new alert.
type CreateInput struct {
	Type        Type
	Title       string
	Description string
	Source      string
	AssetID     string
	CVEIDs      []string
	Tactics     []string
	Metadata    map[string]interface{}
}

// SeverityForType maps an alert type to the downstream severity value.
func SeverityForType(t Type) Severity {
	switch t {
	case TypeCritical:
		return SeverityCritical
	case TypeWarning:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// Service creates and reads alerts.
type Service struct {
	store     docstore.Store
	directory *directory.Service
	bus       bus.Bus
	logger    *log.Logger
}

// NewService creates an alert service. The bus may be a NullBus.
func NewService(store docstore.Store, dir *directory.Service, b bus.Bus, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{store: store, directory: dir, bus: b, logger: logger}
}

// CreateAlert validates the input, resolves the user's organization,
// persists the alert, and publishes it to the bus. Publish failures are
// logged but do not fail the create.
func (s *Service) CreateAlert(ctx context.Context, userID string, in CreateInput) (*Alert, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("create alert: user id is required")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("create alert: title is required")
	}
	switch in.Type {
	case TypeCritical, TypeWarning, TypeInfo:
	default:
		return nil, fmt.Errorf("create alert: invalid type %q", in.Type)
	}

	user, err := s.directory.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("create alert: resolve user %s: %w", userID, err)
	}

	source := strings.TrimSpace(in.Source)
	if source == "" {
		source = "cti"
	}

	alert := &Alert{
		UserID:         user.ID,
		OrganizationID: user.OrganizationID,
		Type:           in.Type,
		Severity:       SeverityForType(in.Type),
		Status:         StatusPending,
		Title:          strings.TrimSpace(in.Title),
		Description:    strings.TrimSpace(in.Description),
		Source:         source,
		AssetID:        in.AssetID,
		CVEIDs:         in.CVEIDs,
		Tactics:        in.Tactics,
		Metadata:       in.Metadata,
		CreatedAt:      time.Now().UTC(),
	}

	doc, err := docstore.Encode(alert)
	if err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}
	id, err := s.store.Put(ctx, Collection, "", doc)
	if err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}
	alert.ID = id

	msg := bus.AlertMessage{
		AlertID:        alert.ID,
		OrganizationID: alert.OrganizationID,
		UserID:         alert.UserID,
		AssetID:        alert.AssetID,
		Type:           string(alert.Type),
		Title:          alert.Title,
		CVEIDs:         alert.CVEIDs,
		Timestamp:      alert.CreatedAt.Unix(),
	}
	if err := s.bus.PublishAlert(ctx, msg); err != nil {
		s.logger.Printf("Failed to publish alert %s: %v", alert.ID, err)
	}

	return alert, nil
}

// Get fetches an alert by ID.
func (s *Service) Get(ctx context.Context, id string) (*Alert, error) {
	doc, err := s.store.Get(ctx, Collection, id)
	if err != nil {
		return nil, err
	}
	var alert Alert
	if err := docstore.Decode(doc, &alert); err != nil {
		return nil, fmt.Errorf("get alert %s: %w", id, err)
	}
	if alert.ID == "" {
		alert.ID = id
	}
	return &alert, nil
}

// ListForUser returns a user's alerts, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	page, err := s.store.Query(ctx, Collection, docstore.Query{
		Field:      "userId",
		Op:         docstore.OpEqual,
		Value:      userID,
		OrderBy:    "createdAt",
		Descending: true,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list alerts for %s: %w", userID, err)
	}

	out := make([]Alert, 0, len(page.Docs))
	for _, doc := range page.Docs {
		var alert Alert
		if err := docstore.Decode(doc, &alert); err != nil {
			return nil, fmt.Errorf("list alerts for %s: %w", userID, err)
		}
		out = append(out, alert)
	}
	return out, nil
}
