package demo

import (
	"fmt"

	"github.com/shubhambiswas2196/markgraph/agent"
	"github.com/shubhambiswas2196/markgraph/guard"
	"github.com/shubhambiswas2196/markgraph/model"
	"github.com/shubhambiswas2196/markgraph/tool"
)

// Specialist names.
const (
	AdsAgent    = "ads"
	SheetsAgent = "sheets"
)

// SensitiveTools change live spend and always go through the approval gate.
var SensitiveTools = []string{"pause_campaign", "resume_campaign"}

// %s is replaced by the approval sentinel.
const adsPrompt = `You are the advertising specialist. You read campaign performance and manage campaigns.
Active account: {{resource "account_id" | default "unknown"}}.
Always fetch data with your tools instead of guessing numbers, and summarise results in one short paragraph.
Before pausing or resuming a campaign, describe the change and end your message with %s.`

const sheetsPrompt = `You are the spreadsheet specialist. You create spreadsheets, append rows and read them back.
Active spreadsheet: {{resource "spreadsheet_id" | default "none"}}.
Reuse the active spreadsheet unless the user asks for a new one.{{if invoked "ads"}}
The ads specialist already answered this turn; write its figures instead of asking again.{{end}}`

// TeamOptions configure NewTeam.
type TeamOptions struct {
	Ads    *Ads
	Sheets *Sheets
	// InvokerOptions apply to every agent's model call policy.
	InvokerOptions []func(o *agent.InvokerOptions)
	// Approval defaults to the sentinel gate plus SensitiveTools.
	Approval *guard.ApprovalPolicy
}

// NewTeam builds the supervisor with the ads and sheets specialists over m.
func NewTeam(m model.Model, optFns ...func(o *TeamOptions)) (*agent.Supervisor, []*agent.Specialist, error) {
	opts := TeamOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Ads == nil {
		opts.Ads = NewAds()
	}
	if opts.Sheets == nil {
		opts.Sheets = NewSheets()
	}
	if opts.Approval == nil {
		opts.Approval = guard.NewApprovalPolicy(func(o *guard.ApprovalOptions) {
			o.SensitiveTools = SensitiveTools
		})
	}

	invoker := agent.NewInvoker(m, append(opts.InvokerOptions, func(o *agent.InvokerOptions) {
		o.Approval = opts.Approval
	})...)

	adsTools, err := tool.NewRegistry(AdsTools(opts.Ads)...)
	if err != nil {
		return nil, nil, err
	}
	ads, err := agent.NewSpecialist(AdsAgent, m, func(o *agent.SpecialistOptions) {
		o.Description = "Reads ad account performance, lists campaigns, exports daily reports, pauses and resumes campaigns."
		o.Instruction = agent.NewInstructionFromText(fmt.Sprintf(adsPrompt, opts.Approval.Sentinel()))
		o.Tools = adsTools
		o.Invoker = invoker
		o.Approval = opts.Approval
	})
	if err != nil {
		return nil, nil, err
	}

	sheetsTools, err := tool.NewRegistry(SheetsTools(opts.Sheets)...)
	if err != nil {
		return nil, nil, err
	}
	sheets, err := agent.NewSpecialist(SheetsAgent, m, func(o *agent.SpecialistOptions) {
		o.Description = "Creates spreadsheets, appends rows and reads them back."
		o.Instruction = agent.NewInstructionFromText(sheetsPrompt)
		o.Tools = sheetsTools
		o.Invoker = invoker
		o.Approval = opts.Approval
	})
	if err != nil {
		return nil, nil, err
	}

	specialists := []*agent.Specialist{ads, sheets}
	sup, err := agent.NewSupervisor(m, specialists, func(o *agent.SupervisorOptions) {
		o.Invoker = invoker
		o.Approval = opts.Approval
	})
	if err != nil {
		return nil, nil, err
	}

	return sup, specialists, nil
}
