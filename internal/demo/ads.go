// Package demo provides an in-process ads and spreadsheet workspace with the
// tools and prompts of the two demo specialists. The backends are
// deterministic fakes standing in for the real ad-platform and spreadsheet
// APIs.
package demo

import (
	"fmt"
	"hash/fnv"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/shubhambiswas2196/markgraph/core"
	"github.com/shubhambiswas2196/markgraph/tool"
)

// Campaign is one ad campaign of an account.
type Campaign struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Performance is the aggregate of an account over a date range.
type Performance struct {
	AccountID   string            `json:"accountId"`
	Range       string            `json:"range"`
	Impressions int64             `json:"impressions"`
	Clicks      int64             `json:"clicks"`
	Spend       float64           `json:"spend"`
	CTR         float64           `json:"ctr"`
	Currency    string            `json:"currency"`
	Campaigns   []CampaignMetrics `json:"campaigns"`
}

// CampaignMetrics is the per-campaign slice of a Performance report.
type CampaignMetrics struct {
	CampaignID  string  `json:"campaignId"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Spend       float64 `json:"spend"`
}

var ranges = map[string]int{"7d": 7, "30d": 30, "90d": 90}

// Ads is a fake ad platform. Figures are derived from the account id so
// repeated queries return identical data.
type Ads struct {
	mu        sync.Mutex
	campaigns map[string][]Campaign

	// PerformanceCalls counts get_performance_data executions.
	PerformanceCalls atomic.Int64
}

// NewAds seeds the platform with accounts and their campaigns.
func NewAds() *Ads {
	return &Ads{campaigns: map[string][]Campaign{
		"act_1001": {
			{ID: "cmp_1", Name: "Spring Sale", Status: "active"},
			{ID: "cmp_2", Name: "Brand Awareness", Status: "active"},
			{ID: "cmp_3", Name: "Retargeting", Status: "paused"},
		},
		"act_2002": {
			{ID: "cmp_7", Name: "App Installs", Status: "active"},
		},
	}}
}

// Campaigns lists the campaigns of accountID, optionally filtered by status.
func (a *Ads) Campaigns(accountID, status string) ([]Campaign, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	all, ok := a.campaigns[accountID]
	if !ok {
		return nil, fmt.Errorf("ad account %q not found", accountID)
	}

	out := make([]Campaign, 0, len(all))
	for _, c := range all {
		if status == "" || c.Status == status {
			out = append(out, c)
		}
	}
	return out, nil
}

// SetStatus changes a campaign status.
func (a *Ads) SetStatus(accountID, campaignID, status string) (Campaign, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	all, ok := a.campaigns[accountID]
	if !ok {
		return Campaign{}, fmt.Errorf("ad account %q not found", accountID)
	}
	i := slices.IndexFunc(all, func(c Campaign) bool { return c.ID == campaignID })
	if i < 0 {
		return Campaign{}, fmt.Errorf("campaign %q not found in %s", campaignID, accountID)
	}
	all[i].Status = status
	return all[i], nil
}

// Performance returns the aggregate report of accountID over rng.
func (a *Ads) Performance(accountID, rng string) (Performance, error) {
	a.PerformanceCalls.Add(1)

	days, ok := ranges[rng]
	if !ok {
		return Performance{}, fmt.Errorf("unsupported range %q (use 7d, 30d or 90d)", rng)
	}
	campaigns, err := a.Campaigns(accountID, "")
	if err != nil {
		return Performance{}, err
	}

	p := Performance{AccountID: accountID, Range: rng, Currency: "USD"}
	for _, c := range campaigns {
		seed := int64(hash(accountID+c.ID)%900 + 100)
		m := CampaignMetrics{
			CampaignID:  c.ID,
			Impressions: seed * 120 * int64(days),
			Clicks:      seed * 3 * int64(days),
			Spend:       float64(seed*int64(days)) / 10,
		}
		if c.Status == "paused" {
			m = CampaignMetrics{CampaignID: c.ID}
		}
		p.Campaigns = append(p.Campaigns, m)
		p.Impressions += m.Impressions
		p.Clicks += m.Clicks
		p.Spend += m.Spend
	}
	if p.Impressions > 0 {
		p.CTR = float64(p.Clicks) / float64(p.Impressions)
	}
	return p, nil
}

// DailyReport renders one CSV line per campaign and day. It is large on
// purpose: 90 days of a few campaigns exceeds the eviction threshold.
func (a *Ads) DailyReport(accountID, rng string) (string, error) {
	days, ok := ranges[rng]
	if !ok {
		return "", fmt.Errorf("unsupported range %q (use 7d, 30d or 90d)", rng)
	}
	campaigns, err := a.Campaigns(accountID, "")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("day,account_id,campaign_id,campaign_name,impressions,clicks,ctr,spend_usd,cpc_usd,conversions\n")
	for d := days; d >= 1; d-- {
		for _, c := range campaigns {
			seed := hash(fmt.Sprintf("%s/%s/%d", accountID, c.ID, d))%900 + 100
			spend := float64(seed) / 10
			fmt.Fprintf(&b, "D-%02d,%s,%s,%s,%d,%d,%.4f,%.2f,%.2f,%d\n",
				d, accountID, c.ID, c.Name, seed*120, seed*3, 0.025, spend, spend/float64(seed*3), seed/20)
		}
	}
	return b.String(), nil
}

func hash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

type performanceArgs struct {
	AccountID string `json:"accountId" jsonschema_description:"Ad account id, e.g. act_1001"`
	Range     string `json:"range" jsonschema:"enum=7d,enum=30d,enum=90d" jsonschema_description:"Reporting window"`
}

type listCampaignsArgs struct {
	AccountID string `json:"accountId" jsonschema_description:"Ad account id"`
	Status    string `json:"status,omitempty" jsonschema:"enum=active,enum=paused"`
}

type setStatusArgs struct {
	AccountID  string `json:"accountId" jsonschema_description:"Ad account id"`
	CampaignID string `json:"campaignId" jsonschema_description:"Campaign id"`
}

// AdsTools returns the tools of the ads specialist.
func AdsTools(a *Ads) []tool.Tool {
	return []tool.Tool{
		tool.NewFunctionToolFromStruct("get_performance_data",
			"Aggregate impressions, clicks, spend and CTR of an ad account over a date range.",
			performanceArgs{},
			func(tc *core.ToolContext, args map[string]any) (any, error) {
				var in performanceArgs
				if err := bind(args, &in); err != nil {
					return nil, err
				}
				tc.SetResource("account_id", in.AccountID)
				return a.Performance(in.AccountID, in.Range)
			}),
		tool.NewFunctionToolFromStruct("list_campaigns",
			"List the campaigns of an ad account, optionally filtered by status.",
			listCampaignsArgs{},
			func(tc *core.ToolContext, args map[string]any) (any, error) {
				var in listCampaignsArgs
				if err := bind(args, &in); err != nil {
					return nil, err
				}
				campaigns, err := a.Campaigns(in.AccountID, in.Status)
				if err != nil {
					return nil, err
				}
				return map[string]any{"accountId": in.AccountID, "campaigns": campaigns}, nil
			}),
		tool.NewFunctionToolFromStruct("export_daily_report",
			"Export the day-by-day CSV report of every campaign of an account.",
			performanceArgs{},
			func(tc *core.ToolContext, args map[string]any) (any, error) {
				var in performanceArgs
				if err := bind(args, &in); err != nil {
					return nil, err
				}
				return a.DailyReport(in.AccountID, in.Range)
			}),
		tool.NewFunctionToolFromStruct("pause_campaign",
			"Pause a running campaign. This changes live spend and requires user approval.",
			setStatusArgs{},
			func(tc *core.ToolContext, args map[string]any) (any, error) {
				var in setStatusArgs
				if err := bind(args, &in); err != nil {
					return nil, err
				}
				return a.SetStatus(in.AccountID, in.CampaignID, "paused")
			}),
		tool.NewFunctionToolFromStruct("resume_campaign",
			"Resume a paused campaign. This changes live spend and requires user approval.",
			setStatusArgs{},
			func(tc *core.ToolContext, args map[string]any) (any, error) {
				var in setStatusArgs
				if err := bind(args, &in); err != nil {
					return nil, err
				}
				return a.SetStatus(in.AccountID, in.CampaignID, "active")
			}),
	}
}
