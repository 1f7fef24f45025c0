package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/smartfin/internal/domain"
	"github.com/ashureev/smartfin/internal/tool"
)

type delegateArgs struct {
	Request string `json:"request"`
}

type delegate struct {
	name       string
	capability domain.Capability
	status     domain.Status
	desc       string
}

var delegates = []delegate{
	{"data_analyst", domain.CapabilityAnalysis, domain.StatusDataAnalystInit,
		"Data analysis and chart generation over the dataset uploaded by the user. Returns findings and graph ids."},
	{"data_engineer", domain.CapabilityExtraction, domain.StatusDataEngineerInit,
		"Extracts fields from fiscal documents or text into the vector store, and retrieves stored data through semantic search."},
	{"tax_specialist", domain.CapabilityValidation, domain.StatusTaxSpecialistInit,
		"Validates taxes of Brazilian invoices (header, ICMS, IPI, PIS, COFINS and total). Include the document data in the request."},
	{"report_gen", domain.CapabilityReporting, domain.StatusReportGenInit,
		"Generates a PDF report and sends it to the user's email. Include all relevant data and graph ids in the request."},
}

// saoPaulo is the user's time zone.
var saoPaulo = func() *time.Location {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		return time.FixedZone("-03", -3*60*60)
	}
	return loc
}()

// supervisorTools delegates to the agents already built in b.
func supervisorTools(sessionID string, b *Bundle, n Notifier) ([]tool.Tool, error) {
	tools := make([]tool.Tool, 0, len(delegates)+1)
	for _, d := range delegates {
		target, ok := b.Get(d.capability)
		if !ok {
			return nil, fmt.Errorf("supervisor requires the %s agent", d.capability)
		}
		tools = append(tools, tool.New(d.name, d.desc,
			tool.Object(map[string]any{
				"request": tool.Prop("string", "Task description for the agent, with every piece of data it needs."),
			}, "request"),
			func(ctx context.Context, a delegateArgs) (any, error) {
				n.Notify(sessionID, d.status)
				out, err := target.Invoke(ctx, a.Request)
				if err != nil {
					n.Notify(sessionID, domain.StatusFailed(d.status.Name, "Falha ao executar a tarefa"))
					return nil, err
				}
				return out, nil
			}))
	}

	tools = append(tools, tool.New("current_datetime",
		"Returns the current date and time in Brazil (America/Sao_Paulo).",
		tool.Object(map[string]any{}),
		func(context.Context, struct{}) (any, error) {
			return time.Now().In(saoPaulo).Format("2006-01-02 15:04:05 -0700 (Monday)"), nil
		}))
	return tools, nil
}
