package providers

import (
	"github.com/tradepulse/alertd/internal/providers/email"
	"github.com/tradepulse/alertd/internal/providers/sms"
	"github.com/tradepulse/alertd/internal/providers/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	sms.Module,
	webhook.Module,
)
