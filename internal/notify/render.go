package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
)

type Mail struct {
	To      string
	Subject string
	Body    string
	HTML    bool
}

func RenderLowStock(to string, p contracts.LowStockPayload) Mail {
	return Mail{
		To:      to,
		Subject: fmt.Sprintf("Low stock: %s", p.ProductName),
		Body: fmt.Sprintf("Product %q (id %d) is running low: %d left in stock.",
			p.ProductName, p.ProductID, p.StockQuantity),
	}
}

var summaryTmpl = template.Must(template.New("summary").Parse(`<h1>Daily sales report for {{.Day}}</h1>
{{if .Rows}}<table>
<thead><tr><th>Product</th><th>Quantity sold</th><th>Revenue</th></tr></thead>
<tbody>
{{range .Rows}}<tr><td>{{.Name}}</td><td>{{.Quantity}}</td><td>{{.Total}}</td></tr>
{{end}}</tbody>
<tfoot><tr><td>Total</td><td>{{.Quantity}}</td><td>{{.Revenue}}</td></tr></tfoot>
</table>{{else}}<p>No products were sold today.</p>{{end}}
`))

type summaryRow struct {
	Name     string
	Quantity int
	Total    string
}

func RenderDailySummary(to string, p contracts.DailySummaryPayload) (Mail, error) {
	day := p.From.Format(time.DateOnly)
	view := struct {
		Day      string
		Rows     []summaryRow
		Quantity int
		Revenue  string
	}{Day: day}

	revenue := decimal.Zero
	for _, r := range p.Rows {
		view.Rows = append(view.Rows, summaryRow{Name: r.Name, Quantity: r.Quantity, Total: r.Total.StringFixed(2)})
		view.Quantity += r.Quantity
		revenue = revenue.Add(r.Total)
	}
	view.Revenue = revenue.StringFixed(2)

	var buf bytes.Buffer
	if err := summaryTmpl.Execute(&buf, view); err != nil {
		return Mail{}, fmt.Errorf("render daily summary: %w", err)
	}
	return Mail{To: to, Subject: "Daily sales report " + day, Body: buf.String(), HTML: true}, nil
}
