package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"courtside/internal/logging"
	"courtside/internal/types"
)

// =============================================================================
// BLOWOUT PRIORS
// =============================================================================

// UpsertBlowoutPriors writes priors keyed on (league, season, team_abbr).
// Team abbreviations are stored upper-cased.
func (s *LocalStore) UpsertBlowoutPriors(ctx context.Context, priors []types.BlowoutPrior) (int, error) {
	if len(priors) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin priors transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO team_blowout_priors (league, season, team_abbr, leading, trailing, baseline, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(league, season, team_abbr) DO UPDATE SET
			leading = excluded.leading,
			trailing = excluded.trailing,
			baseline = excluded.baseline,
			meta = excluded.meta`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare priors upsert: %w", err)
	}
	defer stmt.Close()

	n := 0
	for _, p := range priors {
		if p.League == "" || p.Season == "" || p.TeamAbbr == "" {
			logging.StoreDebug("Skipping prior with incomplete key: %+v", p)
			continue
		}
		var meta []byte
		if p.Meta != nil {
			if meta, err = json.Marshal(p.Meta); err != nil {
				return n, fmt.Errorf("failed to encode prior meta: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx, strings.ToLower(p.League), p.Season, strings.ToUpper(p.TeamAbbr),
			nullFloat(p.Leading), nullFloat(p.Trailing), nullFloat(p.Baseline), nullString(meta)); err != nil {
			return n, fmt.Errorf("failed to upsert prior %s/%s: %w", p.League, p.TeamAbbr, err)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit priors: %w", err)
	}
	logging.Store("Upserted %d blowout priors", n)
	return n, nil
}

// GetBlowoutPriors returns the latest-season priors for the given teams in a
// league. Teams without a row are omitted.
func (s *LocalStore) GetBlowoutPriors(ctx context.Context, league string, teams ...string) ([]types.BlowoutPrior, error) {
	if len(teams) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.BlowoutPrior
	for _, team := range teams {
		var (
			p                           = types.BlowoutPrior{League: strings.ToLower(league)}
			leading, trailing, baseline sql.NullFloat64
			meta                        sql.NullString
		)
		err := s.db.QueryRowContext(ctx, `
			SELECT season, team_abbr, leading, trailing, baseline, meta
			FROM team_blowout_priors
			WHERE league = ? AND team_abbr = ?
			ORDER BY season DESC
			LIMIT 1`, p.League, strings.ToUpper(team),
		).Scan(&p.Season, &p.TeamAbbr, &leading, &trailing, &baseline, &meta)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read prior for %s: %w", team, err)
		}
		p.Leading = floatPtr(leading)
		p.Trailing = floatPtr(trailing)
		p.Baseline = floatPtr(baseline)
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &p.Meta)
		}
		out = append(out, p)
	}
	return out, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
