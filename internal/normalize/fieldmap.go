package normalize

import (
	"fmt"
)

// Upstream numeric field codes the core relies on. The upstream search API
// keys every record by these codes instead of field names.
const (
	CodeID       = "2"
	CodeAssignee = "5"
	CodeGroup    = "8"
	CodeStatus   = "12"
	CodeCreated  = "15"
	CodeResolved = "17"
	CodeModified = "19"
	CodeName     = "1"
)

// FieldMap translates upstream numeric field codes into stable names.
type FieldMap map[string]string

// requiredCodes must all be declared before the normalizer accepts a map.
var requiredCodes = []string{CodeID, CodeStatus, CodeAssignee, CodeGroup, CodeCreated, CodeModified, CodeResolved}

// DefaultFieldMap returns the code mapping for the upstream ticket search
// endpoint.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		CodeName:     "name",
		CodeID:       "id",
		CodeAssignee: "assignee_id",
		CodeGroup:    "group_id",
		CodeStatus:   "status",
		CodeCreated:  "created_at",
		CodeResolved: "resolved_at",
		CodeModified: "modified_at",
	}
}

// Validate fails fast when a required code is undeclared, so a misconfigured
// mapping is caught at startup instead of silently dropping fields.
func (m FieldMap) Validate() error {
	for _, code := range requiredCodes {
		if _, ok := m[code]; !ok {
			return fmt.Errorf("field map missing required code %q", code)
		}
	}
	return nil
}
