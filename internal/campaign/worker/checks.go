package worker

import (
	"strings"

	"github.com/cuongbtq/campaign-crm/internal/campaign/domain"
)

// LeadCheck is a supplementary rule over the lead record. Like address
// checks it can only reject a lead, never accept one.
type LeadCheck struct {
	Name  string
	Allow func(lead domain.Lead) bool
}

var competitorIndustries = map[string]struct{}{
	"competitor":        {},
	"direct competitor": {},
}

// DefaultLeadChecks reject competitors, test companies and incomplete contacts
var DefaultLeadChecks = []LeadCheck{
	{
		Name: "competitor industry",
		Allow: func(lead domain.Lead) bool {
			_, found := competitorIndustries[strings.ToLower(strings.TrimSpace(lead.Industry))]
			return !found
		},
	},
	{
		Name: "test company",
		Allow: func(lead domain.Lead) bool {
			return strings.ToLower(strings.TrimSpace(lead.Company)) != "test company"
		},
	},
	{
		Name: "missing contact details",
		Allow: func(lead domain.Lead) bool {
			return strings.TrimSpace(lead.Email) != "" &&
				strings.TrimSpace(lead.Company) != "" &&
				strings.TrimSpace(lead.ContactNumber) != ""
		},
	},
}
