package graph

// DefaultConfig returns the tier table for the Test Lab schema.
//
// Adding a table to the schema means adding it here with a tier strictly
// below everything it references.
func DefaultConfig() Config {
	return Config{
		Tables: []TableConfig{
			{Name: "company_contacts", Tier: 0, Junction: true, References: []string{"companies", "contacts"}},
			{Name: "company_departments", Tier: 0, Junction: true, References: []string{"companies", "departments"}},
			{Name: "deal_contacts", Tier: 0, Junction: true, References: []string{"deals", "contacts"}},
			{Name: "plan_sets", Tier: 1, References: []string{"projects"}},
			{Name: "licenses", Tier: 2, References: []string{"companies"}},
			{Name: "projects", Tier: 2, References: []string{"deals", "companies"}},
			{Name: "deals", Tier: 3, References: []string{"companies", "contacts"}},
			{Name: "contacts", Tier: 4, References: []string{"companies"}},
			{Name: "departments", Tier: 4},
			{Name: "companies", Tier: 5},
		},
	}
}

// Default returns the Graph for the Test Lab schema.
// Panics if DefaultConfig is invalid, which a unit test guards against.
func Default() *Graph {
	g, err := New(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return g
}
