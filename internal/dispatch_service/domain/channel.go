package domain

// GatewayCredentials identifies and authenticates against the hardware SMS
// gateway. Supplied per call; the core never persists it.
type GatewayCredentials struct {
	BaseURL      string `json:"base_url"`
	Port         int    `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	SerialNumber string `json:"serial_number"`
}

// ChannelState is the operational state of one gateway SIM slot.
type ChannelState string

const (
	ChannelActive   ChannelState = "active"
	ChannelInactive ChannelState = "inactive"
	ChannelError    ChannelState = "error"
)

// ChannelStatus is one entry of the gateway's SIM-slot inventory. Ephemeral;
// produced by an inventory probe and never persisted by the core.
type ChannelStatus struct {
	Port     int          `json:"port"`
	Number   string       `json:"number"`
	State    ChannelState `json:"state"`
	Operator string       `json:"operator"`
	// Signal is a quality percentage. When the gateway omits it, the
	// normalizer substitutes a plausible display placeholder (50-90); that
	// value must never feed delivery decisions.
	Signal int `json:"signal"`
}
