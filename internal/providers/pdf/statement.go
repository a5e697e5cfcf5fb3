package pdf

import (
	"context"
	"errors"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// StatementData is a pre-formatted payout statement. Amounts are already
// rendered as strings by the caller.
type StatementData struct {
	PlatformName string
	ExpertName   string
	ExpertEmail  string
	PeriodLabel  string
	IssuedAt     string

	Lines []StatementLine

	TotalOriginal string
	TotalCanceled string
	TotalFee      string
	TotalRebate   string
}

type StatementLine struct {
	PaymentID string
	Status    string
	Original  string
	Canceled  string
	Fee       string
	Rebate    string
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateRebateStatement(ctx context.Context, data StatementData) ([]byte, error) {
	if data.PeriodLabel == "" {
		return nil, errors.New("statement period is required")
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Rebate statement", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, data.PlatformName, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(25,
		col.New(6).Add(
			text.New("Payee", props.Text{Style: fontstyle.Bold}),
			text.New(data.ExpertName, props.Text{Top: 5}),
			text.New(data.ExpertEmail, props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New("Settlement period: "+data.PeriodLabel, props.Text{Align: align.Right}),
			text.New("Issued: "+data.IssuedAt, props.Text{Top: 5, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(4, "Payment", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Status", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Paid", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(1, "Canceled", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(1, "Fee", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Rebate", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	for _, item := range data.Lines {
		m.AddRow(8,
			text.NewCol(4, item.PaymentID, props.Text{Size: 9}),
			text.NewCol(2, item.Status, props.Text{Size: 9}),
			text.NewCol(2, item.Original, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(1, item.Canceled, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(1, item.Fee, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.Rebate, props.Text{Size: 9, Align: align.Right}),
		)
	}
	if len(data.Lines) == 0 {
		m.AddRow(10, text.NewCol(12, "No rebates for this period.", props.Text{Size: 9, Top: 2}))
	}

	m.AddRow(2, line.NewCol(12))
	totals := []struct{ label, value string }{
		{"Paid", data.TotalOriginal},
		{"Canceled", data.TotalCanceled},
		{"Platform fee", data.TotalFee},
		{"Rebate", data.TotalRebate},
	}
	for _, t := range totals {
		m.AddRow(8,
			col.New(8),
			text.NewCol(2, t.label, props.Text{Size: 9}),
			text.NewCol(2, t.value, props.Text{Size: 9, Align: align.Right}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}
