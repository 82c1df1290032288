package notify

import (
	"bytes"
	"fmt"
	"text/template"
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	Body    string
}

var bodies = map[Type]*template.Template{
	OrderConfirmed: template.Must(template.New("confirmed").Parse(
		`Thank you for your order #{{.OrderID}}.

Total: {{.Total.StringFixed 2}}
Shipping to: {{.ShippingAddress}}

We will let you know when it ships.
`)),
	OrderAddressUpdated: template.Must(template.New("address").Parse(
		`The shipping address of order #{{.OrderID}} was changed to:

{{.ShippingAddress}}

If you did not make this change, contact support.
`)),
	OrderStatusUpdated: template.Must(template.New("status").Parse(
		`Order #{{.OrderID}} moved from {{.PreviousStatus}} to {{.Status}}.
`)),
	OrderShipped: template.Must(template.New("shipped").Parse(
		`Good news, order #{{.OrderID}} has shipped.
{{if .TrackingNumber}}Tracking number: {{.TrackingNumber}}
{{end}}`)),
	OrderCancelled: template.Must(template.New("cancelled").Parse(
		`Order #{{.OrderID}} has been cancelled.
`)),
	PaymentCompleted: template.Must(template.New("paid").Parse(
		`We received your {{.PaymentMethod}} payment of {{.Total.StringFixed 2}} for order #{{.OrderID}}.
Reference: {{.TransactionID}}
`)),
	PaymentFailed: template.Must(template.New("payfailed").Parse(
		`Your {{.PaymentMethod}} payment for order #{{.OrderID}} did not go through.
{{if .Reason}}Reason: {{.Reason}}
{{end}}You can try again from your orders page.
`)),
}

var subjects = map[Type]string{
	OrderConfirmed:      "Order confirmation #%s",
	OrderAddressUpdated: "Shipping address updated for order #%s",
	OrderStatusUpdated:  "Order #%s status update",
	OrderShipped:        "Your order #%s has shipped",
	OrderCancelled:      "Order #%s cancelled",
	PaymentCompleted:    "Payment received for order #%s",
	PaymentFailed:       "Payment failed for order #%s",
}

// Render turns an event into an email for its recipient.
func Render(ev Event) (Message, error) {
	tmpl, ok := bodies[ev.Type]
	if !ok {
		return Message{}, fmt.Errorf("no template for event type %q", ev.Type)
	}
	if ev.Email == "" {
		return Message{}, fmt.Errorf("event %s has no recipient", ev.ID)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ev); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", ev.Type, err)
	}
	return Message{
		To:      ev.Email,
		Subject: fmt.Sprintf(subjects[ev.Type], ev.OrderID),
		Body:    buf.String(),
	}, nil
}
