package state

// MergeStepData merges an update into existing step data without discarding
// keys the update does not mention: new keys overwrite, absent keys are
// preserved. Neither input map is mutated; the merged result is always a
// fresh map so cached step data from a prior attempt survives a later partial
// update.
func MergeStepData(existing, update map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(existing)+len(update))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range update {
		merged[k] = v
	}
	return merged
}
