package semantic

// FieldInfo is the JSON-serializable description of one exposed field.
type FieldInfo struct {
	Name          string `json:"name"`
	Table         string `json:"table"`
	Expression    string `json:"expression,omitempty"`
	IsTime        bool   `json:"is_time,omitempty"`
	SmallestGrain string `json:"smallest_grain,omitempty"`
}

// Description is the merged metadata of a model, consumed by documentation
// and tool surfaces.
type Description struct {
	Tables             []string    `json:"tables"`
	Dimensions         []FieldInfo `json:"dimensions"`
	Measures           []FieldInfo `json:"measures"`
	CalculatedMeasures []FieldInfo `json:"calculated_measures"`
	TimeDimensions     []string    `json:"time_dimensions"`
}

// Describe returns the full merged metadata of the model in namespace
// order.
func (m *Model) Describe() Description {
	d := Description{Tables: append([]string(nil), m.order...)}
	for _, name := range m.names {
		ref := m.fields[name]
		switch ref.Kind {
		case KindDimension:
			d.Dimensions = append(d.Dimensions, FieldInfo{
				Name:          ref.Name,
				Table:         ref.Table.name,
				IsTime:        ref.Dim.IsTime,
				SmallestGrain: string(ref.Dim.SmallestGrain),
			})
		case KindMeasure:
			d.Measures = append(d.Measures, FieldInfo{Name: ref.Name, Table: ref.Table.name})
		case KindCalculated:
			d.CalculatedMeasures = append(d.CalculatedMeasures, FieldInfo{Name: ref.Name, Table: ref.Table.name})
		}
	}
	d.TimeDimensions = append(d.TimeDimensions, m.timeDim...)
	return d
}
