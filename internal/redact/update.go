package redact

import (
	"errors"

	"redactflow/internal/tokenmap"
)

// EntryUpdate corrects the value or label of an existing token. Empty fields
// keep their current value.
type EntryUpdate struct {
	Token         string `json:"token"`
	OriginalValue string `json:"original_value"`
	EntityType    string `json:"entity_type"`
}

// UpdateEntries applies the corrections to m, all or none, and returns occs
// with their display copies refreshed. Token strings and offsets never change.
func UpdateEntries(m *tokenmap.TokenMap, occs []tokenmap.Occurrence, updates []EntryUpdate) ([]tokenmap.Occurrence, error) {
	trial := m.Clone()
	resolved := make([]tokenmap.Update, 0, len(updates))
	for _, u := range updates {
		entry, ok := trial.Get(u.Token)
		if !ok {
			return nil, &TokenNotFoundError{Token: u.Token}
		}

		next := tokenmap.Update{Token: u.Token, OriginalValue: entry.OriginalValue, EntityType: entry.EntityType}
		if u.OriginalValue != "" {
			next.OriginalValue = u.OriginalValue
		}
		if u.EntityType != "" {
			typ, ok := tokenmap.NormalizeEntityType(u.EntityType)
			if !ok {
				return nil, ErrInvalidEntityType
			}
			next.EntityType = typ
		}

		if err := trial.UpdateAll([]tokenmap.Update{next}); err != nil {
			if errors.Is(err, tokenmap.ErrValueConflict) {
				return nil, &ValueConflictError{Token: u.Token, Value: next.OriginalValue}
			}
			return nil, err
		}
		resolved = append(resolved, next)
	}

	if err := m.UpdateAll(resolved); err != nil {
		return nil, err
	}

	out := make([]tokenmap.Occurrence, len(occs))
	for i, o := range occs {
		if entry, ok := m.Get(o.Token); ok {
			o.OriginalValue = entry.OriginalValue
			o.EntityType = entry.EntityType
			o.Score = entry.Score
		}
		out[i] = o
	}
	return out, nil
}
