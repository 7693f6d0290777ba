package usecase

import "quantiv/internal/domain/models"

// BlendQuantiles overlays model-predicted band bounds onto a batch. Only
// band fields with a non-nil prediction are replaced; the baseline magnitude
// and source tag are never touched, and records without a matching key pass
// through unchanged. Applying the same predictions twice yields the same
// batch.
func BlendQuantiles(batch []models.ForecastRecord, preds map[models.ForecastKey]models.BandQuantiles) []models.ForecastRecord {
	if len(preds) == 0 {
		return batch
	}
	out := make([]models.ForecastRecord, len(batch))
	copy(out, batch)
	for i := range out {
		q, ok := preds[out[i].Key()]
		if !ok || q.Empty() {
			continue
		}
		if q.Band68Low != nil {
			v := *q.Band68Low
			out[i].Band68Low = &v
		}
		if q.Band68High != nil {
			v := *q.Band68High
			out[i].Band68High = &v
		}
		if q.Band95Low != nil {
			v := *q.Band95Low
			out[i].Band95Low = &v
		}
		if q.Band95High != nil {
			v := *q.Band95High
			out[i].Band95High = &v
		}
	}
	return out
}
