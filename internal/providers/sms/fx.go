package sms

import (
	"github.com/tradepulse/alertd/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.sms",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) Provider {
	if cfg.SMS.GatewayURL == "" {
		return &NoOpProvider{}
	}
	return NewGateway(Config{
		GatewayURL: cfg.SMS.GatewayURL,
		APIKey:     cfg.SMS.APIKey,
		From:       cfg.SMS.From,
	})
}
