// Package share publishes flowcharts under stable links and serves the
// public gallery.
package share

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowsketch/internal/diagram"
	"github.com/rendis/flowsketch/internal/expressions"
	"github.com/rendis/flowsketch/internal/logging"
	"github.com/rendis/flowsketch/internal/metrics"
	"github.com/rendis/flowsketch/internal/store"
	"github.com/rendis/flowsketch/internal/streaming"
	"github.com/rendis/flowsketch/pkg/schema"
)

const (
	// DefaultTitle is used when a share is created without a title.
	DefaultTitle = "Untitled Flowchart"

	qrEndpoint = "https://api.qrserver.com/v1/create-qr-code/?size=200x200&data="

	defaultGalleryLimit = 20
	maxGalleryLimit     = 100
)

// CreateRequest is the input to Service.Create.
type CreateRequest struct {
	FlowchartCode string `json:"flowchartCode"`
	SVGContent    string `json:"svgContent,omitempty"`
	IsPublic      bool   `json:"isPublic"`
	Title         string `json:"title,omitempty"`
}

// Created is the result of a successful Create.
type Created struct {
	ShareID  string `json:"shareId"`
	ShareURL string `json:"shareUrl"`
}

// GalleryQuery selects public shares. Filter is evaluated per share with the
// named expression engine (expr, cel or jq).
type GalleryQuery struct {
	Filter string
	Engine string
	Limit  int
	Offset int
}

// Service implements share creation, lookup and the gallery.
type Service struct {
	store   store.Store
	exprs   *expressions.Registry
	hub     streaming.EventHub
	metrics *metrics.Metrics
	logger  *slog.Logger
	baseURL string
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithHub publishes share events on hub.
func WithHub(hub streaming.EventHub) Option { return func(s *Service) { s.hub = hub } }

// WithMetrics records share counts.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// NewService creates a share service. baseURL prefixes share links
// (e.g. "http://localhost:3000").
func NewService(st store.Store, exprs *expressions.Registry, baseURL string, opts ...Option) *Service {
	s := &Service{
		store:   st,
		exprs:   exprs,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create stores a flowchart and returns its share link.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Created, error) {
	if strings.TrimSpace(req.FlowchartCode) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "Flowchart code is required")
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = DefaultTitle
	}

	sh := &store.Share{
		ID:            uuid.NewString(),
		Title:         title,
		FlowchartCode: req.FlowchartCode,
		SVGContent:    req.SVGContent,
		IsPublic:      req.IsPublic,
		CreatedAt:     s.now(),
	}
	if err := s.store.CreateShare(ctx, sh); err != nil {
		return nil, err
	}

	ctx = logging.WithShareID(ctx, sh.ID)
	s.logger.InfoContext(ctx, "share created", "public", sh.IsPublic, "title", sh.Title)
	s.metrics.IncShares()
	s.publish(ctx, schema.EventShareCreated, map[string]any{
		"id": sh.ID, "title": sh.Title, "isPublic": sh.IsPublic,
	})

	return &Created{ShareID: sh.ID, ShareURL: s.URL(sh.ID)}, nil
}

// Get returns a share and counts the view. The returned share carries the
// incremented view count.
func (s *Service) Get(ctx context.Context, id string) (*store.Share, error) {
	if strings.TrimSpace(id) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "Share ID is required")
	}

	views, err := s.store.IncrementShareViews(ctx, id)
	if err != nil {
		return nil, err
	}
	sh, err := s.store.GetShare(ctx, id)
	if err != nil {
		return nil, err
	}
	sh.Views = views

	ctx = logging.WithShareID(ctx, id)
	s.logger.DebugContext(ctx, "share viewed", "views", views)
	s.publish(ctx, schema.EventShareViewed, map[string]any{"id": id, "views": views})
	return sh, nil
}

// Gallery lists public shares, newest first. Without a filter the store
// pages directly; with one, every public share is evaluated and the page is
// taken from the matches.
func (s *Service) Gallery(ctx context.Context, q GalleryQuery) ([]*store.Share, error) {
	limit := q.Limit
	switch {
	case limit <= 0:
		limit = defaultGalleryLimit
	case limit > maxGalleryLimit:
		limit = maxGalleryLimit
	}
	offset := max(q.Offset, 0)

	if strings.TrimSpace(q.Filter) == "" {
		return s.store.ListShares(ctx, store.ShareFilter{PublicOnly: true, Limit: limit, Offset: offset})
	}

	engine, err := s.exprs.Get(q.Engine)
	if err != nil {
		return nil, err
	}
	all, err := s.store.ListShares(ctx, store.ShareFilter{PublicOnly: true})
	if err != nil {
		return nil, err
	}

	var matched []*store.Share
	for _, sh := range all {
		ok, err := expressions.Match(ctx, engine, q.Filter, Record(sh))
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, sh)
		}
	}

	if offset >= len(matched) {
		return []*store.Share{}, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Record flattens a share into the variables gallery filters see. nodes and
// edges come from parsing the flowchart; an unparseable chart reports zero.
func Record(sh *store.Share) map[string]any {
	var nodes, edges int64
	if m, err := diagram.ParseFlowchart(sh.FlowchartCode); err == nil {
		nodes, edges = int64(len(m.Nodes)), int64(len(m.Edges))
	}
	return map[string]any{
		"id":        sh.ID,
		"title":     sh.Title,
		"code":      sh.FlowchartCode,
		"views":     sh.Views,
		"isPublic":  sh.IsPublic,
		"createdAt": sh.CreatedAt.UTC().Format(time.RFC3339),
		"nodes":     nodes,
		"edges":     edges,
	}
}

// URL returns the public link for a share ID.
func (s *Service) URL(id string) string {
	return s.baseURL + "/share/" + id
}

// QRCodeURL returns an image URL encoding target as a 200x200 QR code.
func QRCodeURL(target string) (string, error) {
	if strings.TrimSpace(target) == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "URL is required")
	}
	return qrEndpoint + url.QueryEscape(target), nil
}

func (s *Service) publish(ctx context.Context, eventType string, payload any) {
	if s.hub == nil {
		return
	}
	_ = s.hub.Publish(ctx, streaming.StreamEvent{
		Topic:     streaming.TopicShares,
		EventType: eventType,
		Payload:   payload,
	})
}
