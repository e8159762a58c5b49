package quarry

type factory struct{}

var Factory factory

func (f factory) NewSchema() Schema {
	return newSchema()
}

func (f factory) NewStorage(schema Schema) Storage {
	return newStorage(schema)
}

func (f factory) NewCursor(query *Query) *Cursor {
	return query.Cursor()
}
