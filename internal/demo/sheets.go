package demo

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/tool"
)

// Spreadsheet is one sheet of the fake spreadsheet service.
type Spreadsheet struct {
	ID    string     `json:"spreadsheetId"`
	Title string     `json:"title"`
	Rows  [][]string `json:"rows"`
}

// Sheets is a fake spreadsheet service.
type Sheets struct {
	mu    sync.Mutex
	docs  map[string]*Spreadsheet
	newID func() string
}

// NewSheets returns an empty spreadsheet service.
func NewSheets() *Sheets {
	return &Sheets{
		docs:  map[string]*Spreadsheet{},
		newID: func() string { return "sheet_" + uuid.NewString()[:8] },
	}
}

// Create adds an empty spreadsheet.
func (s *Sheets) Create(title string) Spreadsheet {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := &Spreadsheet{ID: s.newID(), Title: title}
	s.docs[doc.ID] = doc
	return *doc
}

// Append adds rows to a spreadsheet and returns the new row count.
func (s *Sheets) Append(id string, rows [][]string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return 0, fmt.Errorf("spreadsheet %q not found", id)
	}
	doc.Rows = append(doc.Rows, rows...)
	return len(doc.Rows), nil
}

// Read returns a copy of a spreadsheet.
func (s *Sheets) Read(id string) (Spreadsheet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return Spreadsheet{}, fmt.Errorf("spreadsheet %q not found", id)
	}
	out := Spreadsheet{ID: doc.ID, Title: doc.Title, Rows: make([][]string, len(doc.Rows))}
	for i, r := range doc.Rows {
		out.Rows[i] = append([]string(nil), r...)
	}
	return out, nil
}

type createArgs struct {
	Title string `json:"title" jsonschema_description:"Title of the new spreadsheet"`
}

type appendArgs struct {
	SpreadsheetID string     `json:"spreadsheetId" jsonschema_description:"Target spreadsheet id"`
	Rows          [][]string `json:"rows" jsonschema_description:"Rows to append, each a list of cell values"`
}

type readArgs struct {
	SpreadsheetID string `json:"spreadsheetId" jsonschema_description:"Spreadsheet id"`
}

// SheetsTools returns the tools of the sheets specialist.
func SheetsTools(s *Sheets) []tool.Tool {
	return []tool.Tool{
		tool.NewFunctionToolFromStruct("create_spreadsheet",
			"Create an empty spreadsheet and return its id.",
			createArgs{},
			func(tc *core.ToolContext, args map[string]any) (any, error) {
				var in createArgs
				if err := bind(args, &in); err != nil {
					return nil, err
				}
				return s.Create(in.Title), nil
			}),
		tool.NewFunctionToolFromStruct("append_rows",
			"Append rows to a spreadsheet.",
			appendArgs{},
			func(tc *core.ToolContext, args map[string]any) (any, error) {
				var in appendArgs
				if err := bind(args, &in); err != nil {
					return nil, err
				}
				n, err := s.Append(in.SpreadsheetID, in.Rows)
				if err != nil {
					return nil, err
				}
				return map[string]any{"spreadsheetId": in.SpreadsheetID, "rowCount": n}, nil
			}),
		tool.NewFunctionToolFromStruct("read_spreadsheet",
			"Read every row of a spreadsheet.",
			readArgs{},
			func(tc *core.ToolContext, args map[string]any) (any, error) {
				var in readArgs
				if err := bind(args, &in); err != nil {
					return nil, err
				}
				return s.Read(in.SpreadsheetID)
			}),
	}
}

// bind decodes validated tool arguments into a typed struct.
func bind(args map[string]any, out any) error {
	b, err := json.Marshal(args)
	if err != nil {
		return tool.NewToolError("", err.Error(), tool.CodeValidation)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return tool.NewToolError("", err.Error(), tool.CodeValidation)
	}
	return nil
}
