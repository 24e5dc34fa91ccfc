package notify

import (
	"bytes"
	"context"
	"html/template"

	"ledgerd/internal/billing/models"
	"ledgerd/internal/billing/ports"
	"ledgerd/pkg/email"
)

// receiptTemplate is a minimal inline receipt. Production deployments swap
// in the real template set and a PDF renderer behind the same port; this
// keeps dev runs and tests self-contained.
var receiptTemplate = template.Must(template.New("payment").Parse(`<!doctype html>
<html lang="{{.Locale}}">
<body>
<p>Hi {{.FirstName}},</p>
<h1>Receipt {{.Payment.Reference}}</h1>
<p>{{.Payment.Description}}</p>
<table>
<tr><td>Invoiced</td><td>{{.Payment.InvoiceAt.Format "2006-01-02"}}</td></tr>
<tr><td>Amount</td><td>{{.Payment.Amount}}</td></tr>
{{if .Payment.Refunded}}<tr><td>Refunded</td><td>{{.Payment.AmountRefunded}}</td></tr>{{end}}
<tr><td>Plan</td><td>{{.Payment.Plan}}</td></tr>
</table>
<p>{{.User.Email}}</p>
</body>
</html>
`))

// TemplateRenderer renders receipts from the in-tree template. The
// attachment variant returns the same rendering as bytes; PDF conversion is
// the external renderer's job.
type TemplateRenderer struct{}

func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{}
}

var _ ports.ReceiptRenderer = (*TemplateRenderer)(nil)

type receiptData struct {
	Payment *models.PaymentEvent
	User    *models.User
	Locale  string
	// FirstName is derived from the address; accounts carry no name field.
	FirstName string
}

func (r *TemplateRenderer) RenderHTML(_ context.Context, payment *models.PaymentEvent, user *models.User, locale string) (string, error) {
	first, _ := email.DeriveNameFromEmail(user.Email)
	var buf bytes.Buffer
	data := receiptData{Payment: payment, User: user, Locale: locale, FirstName: first}
	if err := receiptTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (r *TemplateRenderer) RenderAttachment(ctx context.Context, payment *models.PaymentEvent, user *models.User, locale string) ([]byte, error) {
	html, err := r.RenderHTML(ctx, payment, user, locale)
	if err != nil {
		return nil, err
	}
	return []byte(html), nil
}
