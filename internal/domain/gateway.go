package domain

type GatewayMode string

const (
	GatewayModeTest GatewayMode = "test"
	GatewayModeLive GatewayMode = "live"
)

type Gateway struct {
	ID        int64       `json:"id" yaml:"-"`
	Code      string      `json:"code" yaml:"code"`
	Name      string      `json:"name" yaml:"name"`
	Enabled   bool        `json:"enabled" yaml:"enabled"`
	IsDefault bool        `json:"is_default" yaml:"is_default"`
	Mode      GatewayMode `json:"mode" yaml:"mode"`
}

type GatewayConfig struct {
	ID          int64             `json:"id" yaml:"-"`
	GatewayID   int64             `json:"gateway_id" yaml:"-"`
	Mode        GatewayMode       `json:"mode" yaml:"mode"`
	Credentials map[string]string `json:"-" yaml:"credentials"`
	Active      bool              `json:"active" yaml:"active"`
}
