package usecase

import (
	"testing"
	"time"

	"quantiv/internal/domain/models"
)

func ptr(v float64) *float64 { return &v }

func baselineRecord(sym string) models.ForecastRecord {
	return models.ForecastRecord{
		Underlying: sym,
		QuoteTS:    time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
		ExpDate:    time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC),
		Horizon:    models.HorizonToExp,
		EMBaseline: 0.03,
		Band68Low:  ptr(0.0225),
		Band68High: ptr(0.0375),
		Band95Low:  ptr(0.015),
		Band95High: ptr(0.045),
		SourceTag:  "baseline",
	}
}

func TestBlendOverridesOnlyPredictedBounds(t *testing.T) {
	rec := baselineRecord("AAPL")
	preds := map[models.ForecastKey]models.BandQuantiles{
		rec.Key(): {Band68Low: ptr(0.021), Band95High: ptr(0.050)},
	}

	out := BlendQuantiles([]models.ForecastRecord{rec}, preds)
	if len(out) != 1 {
		t.Fatalf("got %d records, want 1", len(out))
	}
	got := out[0]
	if *got.Band68Low != 0.021 || *got.Band95High != 0.050 {
		t.Fatalf("predicted bounds not applied: %v %v", *got.Band68Low, *got.Band95High)
	}
	// Unpredicted bounds keep their baseline values.
	if *got.Band68High != 0.0375 || *got.Band95Low != 0.015 {
		t.Fatalf("unpredicted bounds changed: %v %v", *got.Band68High, *got.Band95Low)
	}
	if got.EMBaseline != rec.EMBaseline || got.SourceTag != rec.SourceTag {
		t.Fatal("baseline magnitude and source tag must never change")
	}
}

func TestBlendLeavesUnmatchedRecordsAlone(t *testing.T) {
	a := baselineRecord("AAPL")
	b := baselineRecord("MSFT")
	preds := map[models.ForecastKey]models.BandQuantiles{
		a.Key(): {Band68Low: ptr(0.02)},
	}

	out := BlendQuantiles([]models.ForecastRecord{a, b}, preds)
	if *out[1].Band68Low != *b.Band68Low {
		t.Fatalf("unmatched record changed: %v", *out[1].Band68Low)
	}
}

func TestBlendIsIdempotent(t *testing.T) {
	rec := baselineRecord("AAPL")
	preds := map[models.ForecastKey]models.BandQuantiles{
		rec.Key(): {Band68Low: ptr(0.021), Band68High: ptr(0.039), Band95Low: ptr(0.012), Band95High: ptr(0.050)},
	}

	once := BlendQuantiles([]models.ForecastRecord{rec}, preds)
	twice := BlendQuantiles(once, preds)
	for i := range once {
		if *once[i].Band68Low != *twice[i].Band68Low ||
			*once[i].Band68High != *twice[i].Band68High ||
			*once[i].Band95Low != *twice[i].Band95Low ||
			*once[i].Band95High != *twice[i].Band95High {
			t.Fatal("applying the same predictions twice must not change the batch")
		}
	}
}

func TestBlendDoesNotMutateInput(t *testing.T) {
	rec := baselineRecord("AAPL")
	in := []models.ForecastRecord{rec}
	preds := map[models.ForecastKey]models.BandQuantiles{
		rec.Key(): {Band68Low: ptr(0.001)},
	}

	BlendQuantiles(in, preds)
	if *in[0].Band68Low != 0.0225 {
		t.Fatalf("input batch mutated: %v", *in[0].Band68Low)
	}
}

func TestBlendSkipsEmptyPredictions(t *testing.T) {
	rec := baselineRecord("AAPL")
	preds := map[models.ForecastKey]models.BandQuantiles{
		rec.Key(): {},
	}

	out := BlendQuantiles([]models.ForecastRecord{rec}, preds)
	if *out[0].Band68Low != *rec.Band68Low {
		t.Fatal("empty prediction must be a no-op")
	}
}
