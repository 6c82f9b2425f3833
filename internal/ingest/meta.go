package ingest

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/velstad/handmill/internal/rawstore"
	"github.com/velstad/handmill/internal/upstream"
)

// Validate rejects a hand the pipeline cannot place: it needs an id, blinds
// to scale amounts against, and exactly one of the cash/MTT flags set.
func Validate(h upstream.Hand) error {
	if h.ID() == "" {
		return fmt.Errorf("missing hand id")
	}
	if h.Str("blinds") == "" {
		return fmt.Errorf("missing blinds")
	}
	isCash := h.Bool("is_cash")
	isMTT := h.Bool("is_mtt")
	if isCash == isMTT {
		if isCash {
			return fmt.Errorf("both cash and mtt flags set")
		}
		return fmt.Errorf("neither cash game nor mtt")
	}
	return nil
}

// BlindsBB extracts the big blind from a decorated blinds string. "500:83"
// yields 500 and "100b" yields 100; values above a million are chip-unit
// inflated and come back divided by 100.
func BlindsBB(s string) sql.NullFloat64 {
	f, ok := upstream.ParseAmount(s)
	if !ok {
		return sql.NullFloat64{}
	}
	if f > 1_000_000 {
		f = f / 100
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

// DeriveMeta builds the typed sidecar row for a validated hand.
func DeriveMeta(h upstream.Hand, date string) rawstore.MetaRow {
	blinds := BlindsBB(h.Str("blinds"))
	return rawstore.MetaRow{
		ID:               h.ID(),
		HandDate:         date,
		IsCash:           h.Bool("is_cash"),
		IsMTT:            h.Bool("is_mtt"),
		BlindsBB:         blinds.Float64,
		PotType:          h.Str("pot_type"),
		EffStackBB:       h.FloatOr(0, "effective_stack", "eff_stack"),
		ChipBB:           h.FloatOr(0, "chip_value_in_displayed_currency", "chip_value"),
		HasPartialScores: hasPartialScores(h),
	}
}

// PartialScoresJSON serializes the upstream solver score map, when present.
func PartialScoresJSON(h upstream.Hand) (string, bool) {
	v, ok := h["partial_scores"]
	if !ok || v == nil {
		return "", false
	}
	if m, ok := v.(map[string]interface{}); ok && len(m) == 0 {
		return "", false
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func hasPartialScores(h upstream.Hand) bool {
	_, ok := PartialScoresJSON(h)
	return ok
}
