package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Case is the subset of Salesforce Case fields procurement escalation reads.
type Case struct {
	ID          string `json:"Id"`
	Subject     string `json:"Subject"`
	Description string `json:"Description"`
	Status      string `json:"Status"`
	Priority    string `json:"Priority"`
}

// reorderSubject builds the case subject. The part ID leads so open cases
// can be found again by prefix.
func reorderSubject(partID, partName string) string {
	return fmt.Sprintf("Urgent reorder: %s (%s)", partID, partName)
}

// FindOpenReorderCase returns the open reorder case for a part, or nil when
// none exists.
func FindOpenReorderCase(ctx context.Context, client Client, partID string) (*Case, error) {
	soql := fmt.Sprintf(
		"SELECT Id, Subject, Description, Status, Priority FROM Case "+
			"WHERE Subject LIKE 'Urgent reorder: %s (%%' AND IsClosed = false LIMIT 1",
		escapeSoql(partID),
	)
	var cases []Case
	if err := client.Query(ctx, soql, &cases); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find open reorder case for %s", partID))
	}
	if len(cases) == 0 {
		return nil, nil
	}
	return &cases[0], nil
}

// CreateProcurementCase opens a high-priority case for an urgent reorder and
// returns its ID.
func CreateProcurementCase(ctx context.Context, client Client, partID, partName, description string) (string, error) {
	id, err := client.InsertOne(ctx, "Case", map[string]any{
		"Subject":     reorderSubject(partID, partName),
		"Description": description,
		"Origin":      "Web",
		"Priority":    "High",
	})
	if err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("sf: create procurement case for %s", partID))
	}
	return id, nil
}

// UpdateProcurementCase refreshes the description of an open case with the
// latest run's numbers.
func UpdateProcurementCase(ctx context.Context, client Client, caseID, description string) error {
	if err := client.UpdateOne(ctx, "Case", caseID, map[string]any{
		"Description": description,
	}); err != nil {
		return eris.Wrap(err, fmt.Sprintf("sf: update procurement case %s", caseID))
	}
	return nil
}

// escapeSoql escapes single quotes for safe interpolation into SOQL strings.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
