package quarry

// maxSchemaComponents matches the default mask.Mask width. A schema assigns
// one mask bit per registered component.
const maxSchemaComponents = 64

var _ Schema = &quickSchema{}

// quickSchema assigns dense per-storage bit indices so archetype signatures
// and query filters can be compared as masks.
type quickSchema struct {
	rows  map[ComponentID]uint32
	byRow []Component
}

func newSchema() Schema {
	return &quickSchema{
		rows: make(map[ComponentID]uint32),
	}
}

func (s *quickSchema) Register(c Component) uint32 {
	if row, ok := s.rows[c.ID()]; ok {
		return row
	}
	if len(s.byRow) >= maxSchemaComponents {
		panic(SchemaCapacityError{Component: c})
	}
	row := uint32(len(s.byRow))
	s.rows[c.ID()] = row
	s.byRow = append(s.byRow, c)
	return row
}

func (s *quickSchema) Registered(c Component) bool {
	_, ok := s.rows[c.ID()]
	return ok
}

func (s *quickSchema) RowIndexFor(c Component) uint32 {
	return s.rows[c.ID()]
}

func (s *quickSchema) ComponentAtRow(row uint32) Component {
	return s.byRow[row]
}

func (s *quickSchema) Len() int {
	return len(s.byRow)
}
