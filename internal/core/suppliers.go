package core

import "time"

// SupplierInfo describes one entry of the supplier catalog: the
// capabilities it can serve, its default per-window request budgets, and a
// pacing delay between consecutive dispatched calls. The pacing delay is a
// polite floor, deliberately more conservative than the hard budgets.
type SupplierInfo struct {
	Name        string
	Caps        []Capability
	Budgets     WindowBudgets
	PacingDelay time.Duration
}

// BuiltinCatalog returns the default supplier catalog with conservative
// per-supplier budgets. Deployments override budgets and pacing through
// configuration; unknown suppliers can be registered by the embedding
// application.
func BuiltinCatalog() []SupplierInfo {
	return []SupplierInfo{
		{
			Name:        "MOUSER",
			Caps:        []Capability{CapabilityDatasheet, CapabilityImage, CapabilityPricing, CapabilityStock, CapabilityParameters},
			Budgets:     WindowBudgets{PerMinute: 30, PerHour: 1000, PerDay: 10000},
			PacingDelay: 2 * time.Second,
		},
		{
			Name:        "DIGIKEY",
			Caps:        []Capability{CapabilityDatasheet, CapabilityImage, CapabilityPricing, CapabilityStock, CapabilityParameters},
			Budgets:     WindowBudgets{PerMinute: 60, PerHour: 2000, PerDay: 20000},
			PacingDelay: time.Second,
		},
		{
			Name:        "LCSC",
			Caps:        []Capability{CapabilityDatasheet, CapabilityImage, CapabilityPricing, CapabilityStock},
			Budgets:     WindowBudgets{PerMinute: 20, PerHour: 600, PerDay: 5000},
			PacingDelay: 3 * time.Second,
		},
		{
			Name:        "TME",
			Caps:        []Capability{CapabilityDatasheet, CapabilityPricing, CapabilityStock},
			Budgets:     WindowBudgets{PerMinute: 20, PerHour: 500, PerDay: 5000},
			PacingDelay: 3 * time.Second,
		},
		{
			Name:        "FARNELL",
			Caps:        []Capability{CapabilityDatasheet, CapabilityImage, CapabilityPricing, CapabilityStock},
			Budgets:     WindowBudgets{PerMinute: 15, PerHour: 450, PerDay: 4000},
			PacingDelay: 4 * time.Second,
		},
	}
}

// DefaultBudgets maps a catalog to the per-supplier budgets used when
// seeding rate limit configs.
func DefaultBudgets(catalog []SupplierInfo) map[string]WindowBudgets {
	defaults := make(map[string]WindowBudgets, len(catalog))
	for _, info := range catalog {
		defaults[NormalizeSupplier(info.Name)] = info.Budgets
	}
	return defaults
}
