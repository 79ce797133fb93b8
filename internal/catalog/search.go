package catalog

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"cardmint/internal/queue"
)

// Confidence ladder for deterministic candidate scoring.
const (
	ConfidenceNameOnly   = 0.7
	ConfidenceNameNumber = 0.8
	ConfidenceNameHP     = 0.9
	ConfidenceExact      = 1.0
)

// Match pairs a catalog print with its deterministic confidence.
type Match struct {
	Card       Card
	Confidence float64
}

// Resolve finds the best print for asserted attributes. Confidence: 0.7 for a
// name match alone, 0.8 with a matching collector number, 0.9 with a matching
// HP, 1.0 with all three. Returns (nil, nil) when the name hits nothing.
func (s *Store) Resolve(ctx context.Context, name string, hpValue int, collectorNumber string) (*Match, error) {
	matches, err := s.match(ctx, name, hpValue, collectorNumber, "", 1)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return &matches[0], nil
}

// Search returns ranked candidates for an extraction, optionally biased by a
// set hint from the disambiguation rerank. The hint filters when it matches
// known sets and is ignored otherwise, so a bad hint can only widen results,
// never empty them.
func (s *Store) Search(ctx context.Context, extracted queue.Extraction, limit int, setHint string) ([]queue.Candidate, error) {
	if limit <= 0 {
		limit = 5
	}
	matches, err := s.match(ctx, extracted.CardName, extracted.HPValue, extracted.CollectorNumber, setHint, limit)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 && setHint != "" {
		matches, err = s.match(ctx, extracted.CardName, extracted.HPValue, extracted.CollectorNumber, "", limit)
		if err != nil {
			return nil, err
		}
	}

	candidates := make([]queue.Candidate, 0, len(matches))
	for _, m := range matches {
		candidates = append(candidates, queue.Candidate{
			CMCardID:        m.Card.CMCardID,
			CardName:        m.Card.CardName,
			SetName:         m.Card.SetName,
			CollectorNumber: strconv.Itoa(m.Card.CollectorNo),
			Confidence:      m.Confidence,
			Source:          "catalog",
		})
	}
	return candidates, nil
}

func (s *Store) match(ctx context.Context, name string, hpValue int, collectorNumber, setHint string, limit int) ([]Match, error) {
	nameNorm := NormalizeName(name)
	if nameNorm == "" {
		return nil, nil
	}

	query := `
		SELECT c.cm_card_id, c.cm_set_id, s.set_name, c.collector_no, c.card_name, c.hp_value, c.card_type, c.variant_bits, c.lang
		FROM cm_cards c JOIN cm_sets s ON s.cm_set_id = c.cm_set_id
		WHERE c.card_name_norm = ?`
	args := []any{nameNorm}
	if hint := NormalizeName(setHint); hint != "" {
		query += ` AND s.set_name_norm = ?`
		args = append(args, hint)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search catalog: %w", err)
	}
	defer rows.Close()

	wantNo, hasNo := parseCollectorNumber(collectorNumber)
	var matches []Match
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("search catalog: %w", err)
		}
		numberMatch := hasNo && card.CollectorNo == wantNo
		hpMatch := hpValue > 0 && card.HPValue == hpValue
		confidence := ConfidenceNameOnly
		switch {
		case numberMatch && hpMatch:
			confidence = ConfidenceExact
		case hpMatch:
			confidence = ConfidenceNameHP
		case numberMatch:
			confidence = ConfidenceNameNumber
		}
		matches = append(matches, Match{Card: *card, Confidence: confidence})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search catalog: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// parseCollectorNumber tolerates "60", "060", and "60/64" style inputs.
func parseCollectorNumber(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if idx := strings.IndexAny(raw, "/\\"); idx >= 0 {
		raw = raw[:idx]
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
