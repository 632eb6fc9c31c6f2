package entity

// ResultSet holds rows in fetch order with an index by entity key. Rows
// without a key value are kept positionally and are not indexed.
type ResultSet struct {
	Rows  []Row          `msgpack:"rows" json:"rows"`
	Index map[string]int `msgpack:"index" json:"index"`
}

func NewResultSet() *ResultSet {
	return &ResultSet{Index: make(map[string]int)}
}

// Append adds row, keyed by its keyField value. A second row with the same key
// replaces the first in place.
func (rs *ResultSet) Append(keyField string, row Row) {
	if rs.Index == nil {
		rs.Index = make(map[string]int)
	}

	id := FormatID(row[keyField])
	if id == "" {
		rs.Rows = append(rs.Rows, row)
		return
	}

	if pos, ok := rs.Index[id]; ok {
		rs.Rows[pos] = row
		return
	}

	rs.Index[id] = len(rs.Rows)
	rs.Rows = append(rs.Rows, row)
}

func (rs *ResultSet) Get(id any) (Row, bool) {
	if rs == nil {
		return nil, false
	}
	pos, ok := rs.Index[FormatID(id)]
	if !ok {
		return nil, false
	}
	return rs.Rows[pos], true
}

func (rs *ResultSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

// IDs returns the keyed ids in fetch order.
func (rs *ResultSet) IDs() []string {
	if rs == nil {
		return nil
	}
	ids := make([]string, len(rs.Index))
	pos := make(map[int]string, len(rs.Index))
	for id, p := range rs.Index {
		pos[p] = id
	}
	i := 0
	for p := range rs.Rows {
		if id, ok := pos[p]; ok {
			ids[i] = id
			i++
		}
	}
	return ids
}
