package topology

// TableRoutes is the static table -> dataset assignment.
type TableRoutes map[string]string

func (r TableRoutes) Add(dataset, table string) {
	r[table] = dataset
}

func (r TableRoutes) Lookup(table string) (string, bool) {
	ds, ok := r[table]
	return ds, ok
}
