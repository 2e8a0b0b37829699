// Package store persists flood assessments in SQLite or Postgres.
package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/flood-cli/internal/model"
)

// ErrNotFound is returned when an assessment does not exist.
var ErrNotFound = eris.New("store: not found")

// DefaultListLimit caps ListAssessments when Filter.Limit is unset.
const DefaultListLimit = 50

// Filter narrows ListAssessments.
type Filter struct {
	Name   string                 `json:"name,omitempty"`
	Status model.AssessmentStatus `json:"status,omitempty"`
	Limit  int                    `json:"limit,omitempty"`
	Offset int                    `json:"offset,omitempty"`
}

// Store defines the persistence interface for assessments.
type Store interface {
	// SaveAssessment stores a and its zones, assigning ID and CreatedAt
	// when unset.
	SaveAssessment(ctx context.Context, a *model.Assessment) error
	// GetAssessment returns an assessment with its zones, or ErrNotFound.
	GetAssessment(ctx context.Context, id string) (*model.Assessment, error)
	// ListAssessments returns assessments without zones, newest first.
	ListAssessments(ctx context.Context, filter Filter) ([]model.Assessment, error)

	Migrate(ctx context.Context) error
	Close() error
}

// jsonColumns holds the JSON-encoded parts of an assessment row.
type jsonColumns struct {
	threshold, histogram, warnings, failure []byte
}

func encodeColumns(a *model.Assessment) (jsonColumns, error) {
	var (
		c   jsonColumns
		err error
	)
	if c.threshold, err = json.Marshal(a.Threshold); err != nil {
		return c, eris.Wrap(err, "store: marshal threshold")
	}
	if c.histogram, err = json.Marshal(a.Histogram); err != nil {
		return c, eris.Wrap(err, "store: marshal histogram")
	}
	if c.warnings, err = json.Marshal(a.Warnings); err != nil {
		return c, eris.Wrap(err, "store: marshal warnings")
	}
	if c.failure, err = json.Marshal(a.Failure); err != nil {
		return c, eris.Wrap(err, "store: marshal failure")
	}
	return c, nil
}

func (c jsonColumns) decode(a *model.Assessment) error {
	for _, col := range []struct {
		data []byte
		dst  any
	}{
		{c.threshold, &a.Threshold},
		{c.histogram, &a.Histogram},
		{c.warnings, &a.Warnings},
		{c.failure, &a.Failure},
	} {
		if len(col.data) == 0 {
			continue
		}
		if err := json.Unmarshal(col.data, col.dst); err != nil {
			return eris.Wrapf(err, "store: unmarshal assessment %s", a.ID)
		}
	}
	return nil
}

func limit(f Filter) int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}
