package funnel

// User-facing texts. Internal diagnostics are never exposed to the contact;
// failures surface as one of these short apologies.
const (
	apologyText             = "❌ Error al procesar tu solicitud. Por favor intenta más tarde."
	sendErrorText           = "❌ Error al enviar la información."
	imageUnavailableText    = "❌ Imagen no disponible."
	documentUnavailableText = "❌ PDF no disponible."
	noMethodsText           = "Lo sentimos, por el momento no hay métodos de pago disponibles."
	methodGuidanceText      = "Por favor responde con el número o el nombre de uno de los métodos de pago de la lista."
	optionListHeader        = "Elige una opción (responde con el número):"
	methodListHeader        = "Métodos de pago disponibles:"
	priceFormat             = "💰 *Precio:* %s"

	// defaultWelcomeText greets campaign contacts when neither the campaign
	// nor the configurations table carries a welcome message.
	defaultWelcomeText = "👋 Hola, bienvenido a nuestro servicio. Escribe \"info\" para más información."
)

// Fixed recognition vocabularies for the foundation selection states. These
// mirror the phrasing contacts actually type, misspellings included
// ("premiun"), so changing an entry changes matching behavior.
var (
	modalityVocab = []string{
		"1", "2", "3", "4",
		"pase vip", "pase premiun", "pase general", "pase virtual",
		"pase", "vip", "premiun", "virtual", "general",
	}

	// yapeVocab is checked before cardVocab; "1" always means Yape.
	yapeVocab = []string{"1", "yape"}

	cardVocab = []string{
		"2", "depósito", "deposito", "transferencia",
		"tarjeta", "tarjeta de crédito", "tarjeta de debito", "tarjeta de débito",
	}

	// paymentMentionVocab detects option-response texts that implicitly open a
	// payment submenu.
	paymentMentionVocab = []string{"pago", "yape", "transferencia", "tarjeta", "método", "metodo"}
)
