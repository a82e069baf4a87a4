package crf

import (
	"fmt"

	"github.com/happyhackingspace/tagger/features"
)

// FeaturesToAttributes converts a feature bag to CRF attributes.
//
// Conversion rules:
//   - string value: "key=value" → 1.0
//   - []string value: "key:item" → 1.0 for each item
//   - bool value: "key" → 1.0 if true
//   - numeric value: "key" → the value
func FeaturesToAttributes(bag features.Bag) map[string]float64 {
	attrs := make(map[string]float64, len(bag))
	for key, val := range bag {
		switch v := val.(type) {
		case string:
			attrs[fmt.Sprintf("%s=%s", key, v)] = 1.0
		case []string:
			for _, item := range v {
				attrs[fmt.Sprintf("%s:%s", key, item)] = 1.0
			}
		case bool:
			if v {
				attrs[key] = 1.0
			}
		case int:
			attrs[key] = float64(v)
		case float32:
			attrs[key] = float64(v)
		case float64:
			attrs[key] = v
		default:
			attrs[key] = 1.0
		}
	}
	return attrs
}

// BagsToAttributes converts the bags of one query.
func BagsToAttributes(bags []features.Bag) []map[string]float64 {
	out := make([]map[string]float64, len(bags))
	for i, b := range bags {
		out[i] = FeaturesToAttributes(b)
	}
	return out
}

// TrainingSequence is a labeled attribute sequence.
type TrainingSequence struct {
	Attributes []map[string]float64
	Labels     []string
}
