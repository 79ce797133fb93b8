package catalog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// IngestResult summarizes one catalog load.
type IngestResult struct {
	Sets  int
	Cards int
}

// IngestCSV loads card prints from r. Expected header:
// cm_set_id,set_name,collector_no,card_name,hp_value,card_type,variant_bits,lang
// Trailing columns are optional per row. Sets are created on first sight.
func (s *Store) IngestCSV(ctx context.Context, r io.Reader) (IngestResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return IngestResult{}, fmt.Errorf("read catalog header: %w", err)
	}
	if len(header) < 4 || NormalizeName(header[0]) != "cm_set_id" {
		return IngestResult{}, fmt.Errorf("unexpected catalog header: %v", header)
	}

	var result IngestResult
	seenSets := make(map[string]bool)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, fmt.Errorf("read catalog line %d: %w", line, err)
		}
		card, set, err := parseIngestRecord(record)
		if err != nil {
			return result, fmt.Errorf("catalog line %d: %w", line, err)
		}
		if !seenSets[set.CMSetID] {
			if err := s.UpsertSet(ctx, set); err != nil {
				return result, err
			}
			seenSets[set.CMSetID] = true
			result.Sets++
		}
		if err := s.UpsertCard(ctx, card); err != nil {
			return result, err
		}
		result.Cards++
	}
	return result, nil
}

func parseIngestRecord(record []string) (Card, Set, error) {
	if len(record) < 4 {
		return Card{}, Set{}, fmt.Errorf("want at least 4 columns, got %d", len(record))
	}
	field := func(i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	set := Set{CMSetID: field(0), SetName: field(1)}
	collectorNo, err := strconv.Atoi(field(2))
	if err != nil {
		return Card{}, Set{}, fmt.Errorf("bad collector number %q", field(2))
	}
	card := Card{
		CMSetID:     set.CMSetID,
		CollectorNo: collectorNo,
		CardName:    field(3),
		CardType:    field(5),
		VariantBits: field(6),
		Lang:        field(7),
	}
	if hp := field(4); hp != "" {
		card.HPValue, err = strconv.Atoi(hp)
		if err != nil {
			return Card{}, Set{}, fmt.Errorf("bad hp value %q", hp)
		}
	}
	return card, set, nil
}
