package mailersvc

import "github.com/corray333/labshop/internal/service/models/notification"

type emailTemplate struct {
	subject string
	body    string
}

const itemsTable = `
| Producto | Cantidad | Subtotal |
|---|---|---|
{{- range .items }}
| {{ .title }} | {{ .quantity }} | {{ money .subtotalCents }} |
{{- end }}
`

const totalsBlock = `
- Subtotal: {{ money .subtotalCents }}
- Envío: {{ money .shippingCents }}
{{- if .couponCode }}
- Descuento ({{ .couponCode }}): -{{ money .discountCents }}
{{- end }}
- **Total: {{ money .totalCents }}**
`

var templates = map[notification.Kind]emailTemplate{
	notification.KindOrderPlaced: {
		subject: "Recibimos tu pedido {{ .orderCode }}",
		body: `# ¡Gracias{{ if .customerName }}, {{ .customerName }}{{ end }}!

Registramos tu pedido **{{ .orderCode }}**. Fecha estimada de entrega: **{{ date .promisedDate }}**.
` + itemsTable + totalsBlock + `
{{- if .bankTransfer }}
## Datos para la transferencia

- Titular: {{ .bankTransfer.holder }}
- Banco: {{ .bankTransfer.bank }}
- CBU: {{ .bankTransfer.cbu }}
- Alias: {{ .bankTransfer.alias }}

Tenés tiempo hasta **{{ datetime .paymentDeadline }}** para transferir; pasado ese plazo el pedido se cancela.
{{- end }}
`,
	},
	notification.KindAdminNewOrder: {
		subject: "Nuevo pedido {{ .orderCode }} ({{ money .totalCents }})",
		body: `# Nuevo pedido {{ .orderCode }}

Cliente: {{ .customerName }} <{{ .customerEmail }}>

Medio de pago: {{ .paymentMethod }}. Entrega prometida: {{ date .promisedDate }}.
` + itemsTable + totalsBlock,
	},
	notification.KindPaymentConfirmed: {
		subject: "Confirmamos el pago de tu pedido {{ .orderCode }}",
		body: `# Pago confirmado

Recibimos el pago de tu pedido **{{ .orderCode }}** y ya entra en producción.
Fecha estimada de entrega: **{{ date .promisedDate }}**.
` + totalsBlock,
	},
	notification.KindAdminPaymentConfirmed: {
		subject: "Pago confirmado: {{ .orderCode }}",
		body: `# Pago confirmado para {{ .orderCode }}

Cliente: {{ .customerName }} <{{ .customerEmail }}>. Total: {{ money .totalCents }}.
`,
	},
	notification.KindAdminTransferProof: {
		subject: "Comprobante de transferencia: {{ .orderCode }}",
		body: `# El cliente informó una transferencia

Pedido **{{ .orderCode }}** por {{ money .totalCents }}.

{{ if .transferProofNote }}> {{ .transferProofNote }}{{ else }}Sin comentarios.{{ end }}

Revisá la cuenta y confirmá el pago desde el panel.
`,
	},
	notification.KindOrderExpired: {
		subject: "Tu pedido {{ .orderCode }} venció",
		body: `# Pedido vencido

No registramos el pago del pedido **{{ .orderCode }}** dentro del plazo, así que lo dimos de baja.
Si ya pagaste, respondé este correo y lo revisamos.
`,
	},
	notification.KindOrderCancelled: {
		subject: "Tu pedido {{ .orderCode }} fue cancelado",
		body: `# Pedido cancelado

El pedido **{{ .orderCode }}** fue cancelado. Ante cualquier duda, respondé este correo.
`,
	},
	notification.KindOrderStatusChanged: {
		subject: "Novedades de tu pedido {{ .orderCode }}",
		body: `# Tu pedido avanzó

El pedido **{{ .orderCode }}** ahora está: **{{ status .customerStatus }}**.
`,
	},
	notification.KindAdminLatePayment: {
		subject: "Pago tardío para {{ .orderCode }}",
		body: `# Pago aprobado tarde

La pasarela aprobó el pago {{ .gatewayPaymentId }} del pedido **{{ .orderCode }}**, que está en estado {{ .state }}.
Hace falta revisarlo y, si corresponde, reembolsarlo.
`,
	},
}

var statusLabels = map[string]string{
	"awaiting_payment":     "esperando el pago",
	"payment_under_review": "revisando el pago",
	"confirmed":            "confirmado",
	"in_production":        "en producción",
	"on_its_way":           "en camino",
	"delivered":            "entregado",
	"cancelled":            "cancelado",
	"expired":              "vencido",
}
