// Package resolve turns free-text contact names into addressable
// identifiers, with caller-driven disambiguation when a name matches
// more than one contact.
package resolve

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Napageneral/msgbridge/internal/contacts"
	"github.com/Napageneral/msgbridge/internal/errs"
	"github.com/Napageneral/msgbridge/internal/fuzzy"
)

// DefaultThreshold is the minimum similarity for a contact candidate.
const DefaultThreshold = 0.6

// HighConfidence short-circuits disambiguation: a lone candidate at or
// above this score is treated as unambiguous.
const HighConfidence = 0.95

// SessionTTL bounds how long a disambiguation result set stays
// selectable.
const SessionTTL = 10 * time.Minute

// Candidate is a scored contact match. Index is 1-based and valid only
// within the resolution that produced it.
type Candidate struct {
	Index   int              `json:"index"`
	Contact contacts.Contact `json:"contact"`
	Score   float64          `json:"score"`
}

// Resolution is the outcome of a name lookup. Exactly one of Match or
// Candidates is set: Match when the name resolved unambiguously,
// Candidates (plus Token) when the caller must pick.
type Resolution struct {
	Match      *Candidate  `json:"match,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty"`
	Token      string      `json:"token,omitempty"`
}

type session struct {
	token      string
	candidates []Candidate
	created    time.Time
}

// Resolver scores names against the contact store and keeps the most
// recent ambiguous result set for selection.
type Resolver struct {
	store *contacts.Store
	now   func() time.Time

	mu   sync.Mutex
	last *session
}

// New creates a Resolver. A nil clock uses time.Now.
func New(store *contacts.Store, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{store: store, now: now}
}

// Resolve fuzzy-matches query against contact display names. With no
// match it returns an empty Resolution; with one confident match it
// returns Match; otherwise it returns the ranked candidate list and a
// token for Select.
func (r *Resolver) Resolve(query string, threshold float64) (*Resolution, error) {
	if fuzzy.Clean(query) == "" {
		return nil, errs.New(errs.Validation, "contact query must not be empty")
	}
	if threshold < 0 || threshold > 1 {
		return nil, errs.New(errs.Validation, "threshold %g out of range [0, 1]", threshold)
	}

	all, err := r.store.All()
	if err != nil {
		return nil, err
	}

	names := make([]string, len(all))
	for i, c := range all {
		names[i] = c.Name
	}

	matches := fuzzy.Rank(query, names, threshold)
	candidates := make([]Candidate, len(matches))
	for i, m := range matches {
		candidates[i] = Candidate{
			Index:   i + 1,
			Contact: all[m.Index],
			Score:   m.Score,
		}
	}

	res := &Resolution{}
	switch {
	case len(candidates) == 0:
		return res, nil
	case len(candidates) == 1,
		candidates[0].Score >= HighConfidence && (len(candidates) < 2 || candidates[1].Score < HighConfidence):
		res.Match = &candidates[0]
		return res, nil
	}

	res.Candidates = candidates
	res.Token = uuid.New().String()
	r.mu.Lock()
	r.last = &session{token: res.Token, candidates: candidates, created: r.now()}
	r.mu.Unlock()
	return res, nil
}

// Select returns the index-th candidate of a prior ambiguous
// resolution. An empty token means "the most recent resolution".
// Selecting against a superseded or expired resolution, or with an
// out-of-range index, fails rather than silently picking the wrong
// contact.
func (r *Resolver) Select(token string, index int) (*Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.last == nil {
		return nil, errs.New(errs.Selection, "no contact resolution to select from; resolve a name first")
	}
	if token != "" && token != r.last.token {
		return nil, errs.New(errs.Selection, "selection refers to an expired resolution; resolve the name again")
	}
	if r.now().Sub(r.last.created) > SessionTTL {
		r.last = nil
		return nil, errs.New(errs.Selection, "selection refers to an expired resolution; resolve the name again")
	}
	if index < 1 || index > len(r.last.candidates) {
		return nil, errs.New(errs.Selection, "selection %d out of range; choose between 1 and %d", index, len(r.last.candidates))
	}
	c := r.last.candidates[index-1]
	return &c, nil
}
