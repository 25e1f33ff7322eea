package catalog

import "strings"

// categoryKeywords maps lowercase name fragments to categories. Checked in
// order so the more specific hardware classes win before the generic
// "kit"/"upgrade" bucket.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{"Cooler", []string{"cooler", "spirit", "ventirad", "thermalright"}},
	{"CPU", []string{"cpu", "ryzen", "intel", "processeur", "9800x3d", "9800 x3d"}},
	{"GPU", []string{"radeon", "geforce", "rtx", "gpu", "graphics", "carte graphique"}},
	{"RAM", []string{"ram", "ddr", "memory", "mémoire"}},
	{"SSD", []string{"ssd", "nvme", "m.2", "disque"}},
	{"Motherboard", []string{"motherboard", "carte mère", "b850", "atx"}},
	{"PSU", []string{"alimentation", "psu", "power supply"}},
	{"Keyboard", []string{"keyboard", "clavier"}},
	{"Mouse", []string{"mouse", "souris"}},
	{"Upgrade Kit", []string{"kit", "upgrade"}},
}

// InferCategory guesses a category from the product name. Falls back to
// "Other" when nothing matches.
func InferCategory(name string) string {
	lower := strings.ToLower(name)
	for _, group := range categoryKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.category
			}
		}
	}
	return "Other"
}
