package toolexec

import (
	"github.com/tidwall/gjson"
)

// DefaultResourcePaths recovers the identifiers the demo tools hand out.
var DefaultResourcePaths = map[string]string{
	"spreadsheet_id": "spreadsheetId",
	"account_id":     "accountId",
}

// scavenge inspects a JSON result for resource handles. Non-JSON results and
// empty values yield nothing.
func scavenge(content string, paths map[string]string) map[string]string {
	if len(paths) == 0 || !gjson.Valid(content) {
		return nil
	}

	found := map[string]string{}
	for key, path := range paths {
		if r := gjson.Get(content, path); r.Exists() && r.String() != "" {
			found[key] = r.String()
		}
	}

	return found
}
