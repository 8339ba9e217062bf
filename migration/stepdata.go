package migration

import (
	"encoding/json"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// encodeStepData flattens a JSON-tagged struct into the map form the state
// store persists.
func encodeStepData(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling step data")
	}
	data := map[string]interface{}{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, errors.Wrap(err, "unmarshalling step data")
	}
	return data, nil
}

// decodeStepData rebuilds a JSON-tagged struct from a persisted step-data
// map. Numbers stored as float64 by the JSON round trip decode back into
// integer fields.
func decodeStepData(data map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "initializing step data decoder")
	}
	return errors.Wrap(decoder.Decode(data), "decoding step data")
}
