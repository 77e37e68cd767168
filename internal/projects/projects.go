// ABOUTME: Project data import and lookup over the permanent tier
// ABOUTME: Imports replace the stored list wholesale and verbatim; only JSON arrays are accepted

// Package projects stores the operator-supplied project records shown next
// to the conversations.
package projects

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/tidwall/gjson"

	"github.com/2389/convo-console/internal/store"
)

var (
	// ErrMalformed is returned for input that is not valid JSON
	ErrMalformed = errors.New("project data is not valid JSON")
	// ErrNotArray is returned for valid JSON that is not an array
	ErrNotArray = errors.New("project data must be a JSON array")
)

// Store reads and replaces the project list
type Store struct {
	tier   store.PermanentTier
	logger *slog.Logger
}

// NewStore creates a project store on the permanent tier
func NewStore(tier store.PermanentTier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{tier: tier, logger: logger.With("component", "projects")}
}

// Parse validates raw import input: any JSON array is accepted. Records are
// free-form and are returned exactly as given.
func Parse(raw []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if !json.Valid(trimmed) {
		return nil, ErrMalformed
	}
	if !gjson.ParseBytes(trimmed).IsArray() {
		return nil, ErrNotArray
	}
	var list []json.RawMessage
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if list == nil {
		list = []json.RawMessage{}
	}
	return list, nil
}

// Import validates raw and replaces the stored list with it verbatim.
// Nothing is written when validation fails.
func (s *Store) Import(ctx context.Context, raw []byte) ([]json.RawMessage, error) {
	list, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := s.tier.Put(ctx, store.ProjectDataKey, bytes.TrimSpace(raw)); err != nil {
		return nil, fmt.Errorf("writing project data: %w", err)
	}
	s.logger.Info("project data imported", "count", len(list))
	return list, nil
}

// Load returns the stored records as imported. Missing or malformed data
// yields an empty list.
func (s *Store) Load(ctx context.Context) []json.RawMessage {
	raw, err := s.tier.Get(ctx, store.ProjectDataKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("reading project data failed", "error", err)
		}
		return []json.RawMessage{}
	}
	list, err := Parse(raw)
	if err != nil {
		s.logger.Warn("stored project data is malformed, treating as empty", "error", err)
		return []json.RawMessage{}
	}
	return list
}

// Decode reads the known fields of each record leniently: numeric ids and
// numeric strings for progress are accepted, unknown fields are ignored and
// records that are not objects are skipped.
func Decode(list []json.RawMessage) []store.ProjectData {
	out := make([]store.ProjectData, 0, len(list))
	for _, rec := range list {
		r := gjson.ParseBytes(rec)
		if !r.IsObject() {
			continue
		}
		p := store.ProjectData{
			ID:          r.Get("id").String(),
			Name:        r.Get("name").String(),
			Status:      r.Get("status").String(),
			Progress:    r.Get("progress").Float(),
			StartDate:   r.Get("startDate").String(),
			EndDate:     r.Get("endDate").String(),
			Description: r.Get("description").String(),
		}
		for _, member := range r.Get("team").Array() {
			p.Team = append(p.Team, member.String())
		}
		out = append(out, p)
	}
	return out
}

// Statuses that take a project out of the active count
const (
	StatusCompleted = "Concluído"
	StatusCancelled = "Cancelado"
)

// Summary holds the headline figures shown on the welcome page
type Summary struct {
	Active          int `json:"active"`
	Completed       int `json:"completed"`
	AverageProgress int `json:"averageProgress"`
}

// Summarize computes headline figures. AverageProgress is rounded to the
// nearest whole percent and is zero for an empty list.
func Summarize(list []store.ProjectData) Summary {
	var sum Summary
	var total float64
	for _, p := range list {
		switch p.Status {
		case StatusCompleted:
			sum.Completed++
		case StatusCancelled:
		default:
			sum.Active++
		}
		total += p.Progress
	}
	if len(list) > 0 {
		sum.AverageProgress = int(math.Round(total / float64(len(list))))
	}
	return sum
}
