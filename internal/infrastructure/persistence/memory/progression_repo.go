package memory

import (
	"context"
	"sort"

	"github.com/skillquest/progression-engine/internal/domain/progression"
	"github.com/skillquest/progression-engine/internal/domain/shared"
)

// ProfileRepository implements progression.ProfileRepository.
type ProfileRepository struct{ s *Store }

// Get returns a copy of the stored profile.
func (r *ProfileRepository) Get(_ context.Context, userID shared.UserID) (*progression.Profile, error) {
	if err := r.s.fault("profiles.Get"); err != nil {
		return nil, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.data.profiles[userID]
	if !ok {
		return nil, shared.ErrProfileNotFound
	}
	return p.Clone(), nil
}

// Create inserts the profile unless it exists.
func (r *ProfileRepository) Create(_ context.Context, p *progression.Profile) (bool, error) {
	if err := r.s.fault("profiles.Create"); err != nil {
		return false, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.profiles[p.UserID]; ok {
		return false, nil
	}
	r.s.data.profiles[p.UserID] = p.Clone()
	return true, nil
}

// Save writes the profile when the stored version matches.
func (r *ProfileRepository) Save(_ context.Context, p *progression.Profile) error {
	if err := r.s.fault("profiles.Save"); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.data.profiles[p.UserID]
	if !ok {
		return shared.ErrProfileNotFound
	}
	if stored.Version != p.Version {
		return shared.ErrProfileVersionStale
	}

	next := p.Clone()
	next.Version = p.Version + 1
	next.CreatedAt = stored.CreatedAt
	next.Role = stored.Role
	r.s.data.profiles[p.UserID] = next

	p.Version = next.Version
	return nil
}

// ListAfter returns a page of profiles ordered by id.
func (r *ProfileRepository) ListAfter(_ context.Context, after shared.UserID, limit int) ([]*progression.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ids := make([]shared.UserID, 0, len(r.s.data.profiles))
	for id := range r.s.data.profiles {
		if id > after {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]*progression.Profile, len(ids))
	for i, id := range ids {
		out[i] = r.s.data.profiles[id].Clone()
	}
	return out, nil
}

// CountWithMoreXP counts profiles strictly ahead of xp.
func (r *ProfileRepository) CountWithMoreXP(_ context.Context, xp int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for _, p := range r.s.data.profiles {
		if p.XP > xp {
			n++
		}
	}
	return n, nil
}

// ThresholdRepository implements progression.ThresholdRepository.
type ThresholdRepository struct{ s *Store }

// List returns thresholds ordered by level.
func (r *ThresholdRepository) List(_ context.Context) ([]progression.Threshold, error) {
	if err := r.s.fault("thresholds.List"); err != nil {
		return nil, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := append([]progression.Threshold(nil), r.s.data.thresholds...)
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

// Replace swaps the table.
func (r *ThresholdRepository) Replace(_ context.Context, rows []progression.Threshold) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.data.thresholds = append([]progression.Threshold(nil), rows...)
	return nil
}
