package pipeline

import "encoding/json"

// classificationField is the shape recognized for "classification decisions
// with confidence" fields (spec.md §4.F combination policy).
type classificationField struct {
	Value      interface{} `json:"value"`
	Confidence float64     `json:"confidence"`
}

// scalarEnumThreshold is the string length under which a string-valued field
// is treated as a "scalar enumerated" field (mode across segments) rather
// than a "paragraph" field (concatenation). The response schema's exact
// shape is out of scope (spec.md §1 Non-goals); this heuristic distinguishes
// short categorical values ("positive", "tutorial") from prose.
const scalarEnumThreshold = 40

// MergeAnalyses implements the Combination job's deterministic merge policy
// (spec.md §4.F) over the per-segment structured analysis artifacts, already
// ordered by segment index. Segments whose AnalysisResult is not valid JSON
// are skipped; the merge still proceeds over the remaining segments.
func MergeAnalyses(analyses []string) (string, error) {
	var docs []map[string]interface{}
	var fieldOrder []string
	seenField := map[string]bool{}

	for _, raw := range analyses {
		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			continue
		}
		docs = append(docs, doc)
		for k := range doc {
			if !seenField[k] {
				seenField[k] = true
				fieldOrder = append(fieldOrder, k)
			}
		}
	}

	merged := make(map[string]interface{}, len(fieldOrder))
	for _, field := range fieldOrder {
		values := make([]interface{}, 0, len(docs))
		for _, doc := range docs {
			if v, ok := doc[field]; ok {
				values = append(values, v)
			}
		}
		merged[field] = mergeField(values)
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func mergeField(values []interface{}) interface{} {
	if len(values) == 0 {
		return nil
	}

	if allClassifications(values) {
		return mergeClassifications(values)
	}
	if allSlices(values) {
		return mergeSets(values)
	}
	if allStrings(values) {
		return mergeStrings(values)
	}

	for _, v := range values {
		if !isEmptyValue(v) {
			return v
		}
	}
	return values[0]
}

func allClassifications(values []interface{}) bool {
	for _, v := range values {
		m, ok := v.(map[string]interface{})
		if !ok {
			return false
		}
		if _, ok := m["confidence"]; !ok {
			return false
		}
		if _, ok := m["value"]; !ok {
			return false
		}
	}
	return true
}

func mergeClassifications(values []interface{}) interface{} {
	bestIdx := 0
	bestConf := -1.0
	for i, v := range values {
		m := v.(map[string]interface{})
		conf, _ := m["confidence"].(float64)
		if conf > bestConf {
			bestConf = conf
			bestIdx = i
		}
	}
	return values[bestIdx]
}

func allSlices(values []interface{}) bool {
	for _, v := range values {
		if _, ok := v.([]interface{}); !ok {
			return false
		}
	}
	return true
}

// mergeSets unions set-valued fields, preserving first-seen order across
// segments (spec.md §9 Open Question (ii)).
func mergeSets(values []interface{}) interface{} {
	var out []interface{}
	seen := map[string]bool{}
	for _, v := range values {
		for _, item := range v.([]interface{}) {
			key, err := json.Marshal(item)
			if err != nil {
				continue
			}
			if !seen[string(key)] {
				seen[string(key)] = true
				out = append(out, item)
			}
		}
	}
	return out
}

func allStrings(values []interface{}) bool {
	for _, v := range values {
		if _, ok := v.(string); !ok {
			return false
		}
	}
	return true
}

// mergeStrings implements the "scalar enumerated" (mode, ties by first
// occurrence) and "paragraph" (concatenation) string-field policies,
// distinguished by scalarEnumThreshold.
func mergeStrings(values []interface{}) interface{} {
	isParagraph := false
	for _, v := range values {
		if len(v.(string)) > scalarEnumThreshold {
			isParagraph = true
			break
		}
	}
	if isParagraph {
		parts := make([]string, 0, len(values))
		for _, v := range values {
			s := v.(string)
			if s != "" {
				parts = append(parts, s)
			}
		}
		out := ""
		for i, p := range parts {
			if i > 0 {
				out += " "
			}
			out += p
		}
		return out
	}

	counts := map[string]int{}
	firstIdx := map[string]int{}
	for i, v := range values {
		s := v.(string)
		counts[s]++
		if _, ok := firstIdx[s]; !ok {
			firstIdx[s] = i
		}
	}
	best := values[0].(string)
	bestCount := -1
	bestFirst := len(values)
	for s, c := range counts {
		if c > bestCount || (c == bestCount && firstIdx[s] < bestFirst) {
			best = s
			bestCount = c
			bestFirst = firstIdx[s]
		}
	}
	return best
}

func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	}
	return false
}
