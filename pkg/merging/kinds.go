package merging

import (
	"fmt"

	"github.com/Ramsey-B/tulip/pkg/database"
	"github.com/Ramsey-B/tulip/pkg/models"
)

// CandidateForeignKey is the column every dependent table uses to reference its candidate.
const CandidateForeignKey = "candidate_id"

// DefaultDependentKinds lists the tables whose rows belong to a candidate and move on merge.
func DefaultDependentKinds() []models.DependentKind {
	kinds := []struct{ name, table string }{
		{"screening", "screenings"},
		{"registration_document", "registration_documents"},
		{"undertaking", "undertakings"},
		{"attendance", "attendances"},
		{"assessment", "assessments"},
		{"certificate", "certificates"},
		{"visa_process", "visa_processes"},
		{"departure", "departures"},
		{"remittance", "remittances"},
		{"remittance_beneficiary", "remittance_beneficiaries"},
		{"complaint", "complaints"},
		{"correspondence", "correspondences"},
		{"document_archive", "document_archives"},
		{"next_of_kin", "next_of_kin"},
	}

	out := make([]models.DependentKind, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, models.DependentKind{Name: k.name, Table: k.table, ForeignKey: CandidateForeignKey})
	}
	return out
}

// TableNames returns the table of each kind in order.
func TableNames(kinds []models.DependentKind) []string {
	tables := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		tables = append(tables, kind.Table)
	}
	return tables
}

func validateKinds(kinds []models.DependentKind) error {
	if len(kinds) == 0 {
		return fmt.Errorf("at least one dependent kind is required")
	}

	names := make(map[string]bool, len(kinds))
	tables := make(map[string]bool, len(kinds))
	for _, kind := range kinds {
		switch {
		case kind.Name == "":
			return fmt.Errorf("dependent kind for table %q has no name", kind.Table)
		case !database.IsIdentifier(kind.Table):
			return fmt.Errorf("dependent kind %s has invalid table %q", kind.Name, kind.Table)
		case !database.IsIdentifier(kind.ForeignKey):
			return fmt.Errorf("dependent kind %s has invalid foreign key %q", kind.Name, kind.ForeignKey)
		case names[kind.Name]:
			return fmt.Errorf("dependent kind %s is listed twice", kind.Name)
		case tables[kind.Table]:
			return fmt.Errorf("table %s is listed by more than one dependent kind", kind.Table)
		}
		names[kind.Name] = true
		tables[kind.Table] = true
	}
	return nil
}
