package nodefilter

import "fmt"

// Parse converts a decoded document value into a FilterSet.
// A nil value yields a nil FilterSet. Any shape other than a mapping with an
// optional filter_set list of mappings is rejected with ErrInvalidFilter.
func Parse(v any) (*FilterSet, error) {
	if v == nil {
		return nil, nil
	}

	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a mapping, got %T", ErrInvalidFilter, v)
	}

	fs := &FilterSet{}
	if t, ok := m["filter_set_type"]; ok {
		s, ok := t.(string)
		if !ok {
			return nil, fmt.Errorf("%w: filter_set_type must be a string", ErrInvalidFilter)
		}
		fs.FilterSetType = Combinator(s)
	}

	raw, ok := m["filter_set"]
	if !ok || raw == nil {
		return fs, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: filter_set must be a list", ErrInvalidFilter)
	}

	for i, item := range list {
		fm, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: filter %d must be a mapping", ErrInvalidFilter, i)
		}
		f, err := parseFilter(fm)
		if err != nil {
			return nil, fmt.Errorf("filter %d: %w", i, err)
		}
		fs.FilterSet = append(fs.FilterSet, f)
	}

	return fs, nil
}

func parseFilter(m map[string]any) (Filter, error) {
	var f Filter
	var err error

	if t, ok := m["filter_type"]; ok {
		s, ok := t.(string)
		if !ok {
			return f, fmt.Errorf("%w: filter_type must be a string", ErrInvalidFilter)
		}
		f.FilterType = Combinator(s)
	}
	if f.NodeNames, err = stringList(m, "node_names"); err != nil {
		return f, err
	}
	if f.NodeTags, err = stringList(m, "node_tags"); err != nil {
		return f, err
	}
	if f.RackNames, err = stringList(m, "rack_names"); err != nil {
		return f, err
	}
	if f.NodeLabels, err = stringMap(m, "node_labels"); err != nil {
		return f, err
	}
	if f.RackLabels, err = stringMap(m, "rack_labels"); err != nil {
		return f, err
	}
	return f, nil
}

func stringList(m map[string]any, key string) ([]string, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a list", ErrInvalidFilter, key)
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s entries must be strings", ErrInvalidFilter, key)
		}
		out = append(out, s)
	}
	return out, nil
}

func stringMap(m map[string]any, key string) (map[string]string, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return nil, nil
	}
	mm, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a mapping", ErrInvalidFilter, key)
	}
	out := make(map[string]string, len(mm))
	for k, v := range mm {
		out[k] = fmt.Sprint(v)
	}
	return out, nil
}
