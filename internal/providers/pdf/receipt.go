package pdf

import (
	"bytes"
	"context"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

func (p *PDFProvider) GenerateReceipt(ctx context.Context, data ReceiptData) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(30,
		text.NewCol(8, "Payment Receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, data.OrgName, props.Text{
			Size:  12,
			Align: align.Right,
		}),
	)

	m.AddRow(25,
		col.New(6).Add(
			text.New("Receipt: "+data.ReceiptRef, props.Text{Top: 0}),
			text.New("Invoice number: "+data.InvoiceNumber, props.Text{Top: 4}),
			text.New("Date paid: "+data.DatePaid, props.Text{Top: 8}),
		),
		col.New(6).Add(
			text.New("Property: "+data.PropertyName, props.Text{Top: 0}),
			text.New("Tenant: "+data.TenantName, props.Text{Top: 4}),
			text.New("Method: "+data.Method, props.Text{Top: 8}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, data.AmountPaid+" paid on "+data.DatePaid, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	addTotalRow(m, "Invoice total", data.Total)
	addTotalRow(m, "Paid to date", data.InvoiceData.AmountPaid)
	addTotalRow(m, "Balance due", data.BalanceDue)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(doc.GetBytes()), nil
}
