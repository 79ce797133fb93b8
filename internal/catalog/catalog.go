// Package catalog stores the canonical card print catalog (cm_sets and
// cm_cards) and answers ranked candidate searches over it.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Set is one known card set.
type Set struct {
	CMSetID string
	SetName string
}

// Card is one known card print.
type Card struct {
	CMCardID    string
	CMSetID     string
	SetName     string
	CollectorNo int
	CardName    string
	HPValue     int
	CardType    string
	VariantBits string
	Lang        string
}

// Store provides catalog reads and writes over a shared database handle.
type Store struct {
	db *sql.DB
}

// New prepares the catalog tables on db and returns a store. The handle is
// shared with the job store and stays owned by the caller.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure catalog schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS cm_sets (
			cm_set_id TEXT PRIMARY KEY,
			set_name TEXT NOT NULL,
			set_name_norm TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cm_sets_name_norm ON cm_sets(set_name_norm)`,
		`CREATE TABLE IF NOT EXISTS cm_cards (
			cm_card_id TEXT PRIMARY KEY,
			cm_set_id TEXT NOT NULL REFERENCES cm_sets(cm_set_id),
			collector_no INTEGER NOT NULL,
			card_name TEXT NOT NULL,
			card_name_norm TEXT NOT NULL,
			hp_value INTEGER NOT NULL DEFAULT 0,
			card_type TEXT NOT NULL DEFAULT '',
			variant_bits TEXT NOT NULL DEFAULT 'base',
			lang TEXT NOT NULL DEFAULT 'EN'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cm_cards_name_norm ON cm_cards(card_name_norm)`,
		`CREATE INDEX IF NOT EXISTS idx_cm_cards_set ON cm_cards(cm_set_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertSet inserts or refreshes a set row.
func (s *Store) UpsertSet(ctx context.Context, set Set) error {
	if strings.TrimSpace(set.CMSetID) == "" {
		return fmt.Errorf("set id required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cm_sets (cm_set_id, set_name, set_name_norm)
		VALUES (?, ?, ?)
		ON CONFLICT(cm_set_id) DO UPDATE SET set_name = excluded.set_name, set_name_norm = excluded.set_name_norm`,
		set.CMSetID, set.SetName, NormalizeName(set.SetName))
	if err != nil {
		return fmt.Errorf("upsert set %s: %w", set.CMSetID, err)
	}
	return nil
}

// UpsertCard inserts or refreshes a card print. The cm_card_id is derived from
// set, collector number, and variant when not already set.
func (s *Store) UpsertCard(ctx context.Context, card Card) error {
	if strings.TrimSpace(card.CMSetID) == "" || strings.TrimSpace(card.CardName) == "" {
		return fmt.Errorf("card set id and name required")
	}
	if card.VariantBits == "" {
		card.VariantBits = "base"
	}
	if card.Lang == "" {
		card.Lang = "EN"
	}
	if card.CMCardID == "" {
		card.CMCardID = CardID(card.CMSetID, card.CollectorNo, card.VariantBits)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cm_cards (cm_card_id, cm_set_id, collector_no, card_name, card_name_norm, hp_value, card_type, variant_bits, lang)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cm_card_id) DO UPDATE SET
			collector_no = excluded.collector_no,
			card_name = excluded.card_name,
			card_name_norm = excluded.card_name_norm,
			hp_value = excluded.hp_value,
			card_type = excluded.card_type,
			lang = excluded.lang`,
		card.CMCardID, card.CMSetID, card.CollectorNo, card.CardName, NormalizeName(card.CardName),
		card.HPValue, card.CardType, card.VariantBits, card.Lang)
	if err != nil {
		return fmt.Errorf("upsert card %s: %w", card.CMCardID, err)
	}
	return nil
}

// Counts returns the number of sets and cards in the catalog.
func (s *Store) Counts(ctx context.Context) (sets, cards int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cm_sets`).Scan(&sets); err != nil {
		return 0, 0, fmt.Errorf("count sets: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cm_cards`).Scan(&cards); err != nil {
		return 0, 0, fmt.Errorf("count cards: %w", err)
	}
	return sets, cards, nil
}

// GetCard fetches a print by canonical id. Returns (nil, nil) when absent.
func (s *Store) GetCard(ctx context.Context, cmCardID string) (*Card, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.cm_card_id, c.cm_set_id, s.set_name, c.collector_no, c.card_name, c.hp_value, c.card_type, c.variant_bits, c.lang
		FROM cm_cards c JOIN cm_sets s ON s.cm_set_id = c.cm_set_id
		WHERE c.cm_card_id = ?`, cmCardID)
	card, err := scanCard(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get card %s: %w", cmCardID, err)
	}
	return card, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*Card, error) {
	var card Card
	err := row.Scan(&card.CMCardID, &card.CMSetID, &card.SetName, &card.CollectorNo,
		&card.CardName, &card.HPValue, &card.CardType, &card.VariantBits, &card.Lang)
	if err != nil {
		return nil, err
	}
	return &card, nil
}
