package template

import (
	"context"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/tradepulse/alertd/internal/alert/domain"
	"github.com/tradepulse/alertd/internal/clock"
	templatedomain "github.com/tradepulse/alertd/internal/template/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type builtin struct {
	slug            string
	name            string
	description     string
	category        string
	alertType       alertdomain.AlertType
	conditions      string
	channels        string
	priority        alertdomain.Priority
	cooldownMinutes int
}

// builtins is the shipped catalogue. Conditions carry sensible default
// values the user overrides at materialize time.
var builtins = []builtin{
	{
		slug:            "daily-loss-limit",
		name:            "Daily loss limit",
		description:     "Fires when daily PnL drops below a loss threshold.",
		category:        "risk",
		alertType:       alertdomain.AlertTypeDailyPnL,
		conditions:      `[{"field":"daily_pnl","operator":"lt","value":-500}]`,
		channels:        `["email","in_app"]`,
		priority:        alertdomain.PriorityHigh,
		cooldownMinutes: 60,
	},
	{
		slug:            "drawdown-guard",
		name:            "Drawdown guard",
		description:     "Fires when account drawdown exceeds a percentage.",
		category:        "risk",
		alertType:       alertdomain.AlertTypeDrawdown,
		conditions:      `[{"field":"drawdown","operator":"gt","value":10}]`,
		channels:        `["email","sms","in_app"]`,
		priority:        alertdomain.PriorityCritical,
		cooldownMinutes: 120,
	},
	{
		slug:            "price-breakout",
		name:            "Price breakout",
		description:     "Fires when the symbol price crosses above a level.",
		category:        "price",
		alertType:       alertdomain.AlertTypePriceAbove,
		conditions:      `[{"field":"current_price","operator":"gt","value":100}]`,
		channels:        `["in_app"]`,
		priority:        alertdomain.PriorityMedium,
		cooldownMinutes: 15,
	},
	{
		slug:            "win-rate-floor",
		name:            "Win rate floor",
		description:     "Fires when the rolling win rate falls below a floor.",
		category:        "performance",
		alertType:       alertdomain.AlertTypeWinRate,
		conditions:      `[{"field":"win_rate","operator":"lt","value":40},{"field":"trade_count","operator":"gte","value":20}]`,
		channels:        `["email","in_app"]`,
		priority:        alertdomain.PriorityMedium,
		cooldownMinutes: 240,
	},
	{
		slug:            "pattern-watch",
		name:            "Pattern watch",
		description:     "Fires when a chart pattern is detected on the symbol.",
		category:        "signal",
		alertType:       alertdomain.AlertTypePatternDetected,
		conditions:      `[{"field":"pattern_detected","operator":"eq","value":true}]`,
		channels:        `["in_app","webhook"]`,
		priority:        alertdomain.PriorityLow,
		cooldownMinutes: 30,
	},
}

// seedBuiltins installs the shipped catalogue on first boot. An already
// populated table is left untouched so operator edits survive restarts.
func seedBuiltins(ctx context.Context, db *gorm.DB, repo templatedomain.Repository, genID *snowflake.Node, clk clock.Clock, log *zap.Logger) error {
	count, err := repo.Count(ctx, db)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	now := clk.Now().UTC()
	for _, b := range builtins {
		err := repo.Insert(ctx, db, &templatedomain.AlertTemplate{
			ID:              genID.Generate(),
			Slug:            b.slug,
			Name:            b.name,
			Description:     b.description,
			Category:        b.category,
			AlertType:       b.alertType,
			Conditions:      datatypes.JSON(b.conditions),
			Channels:        datatypes.JSON(b.channels),
			Priority:        b.priority,
			CooldownMinutes: b.cooldownMinutes,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		if err != nil {
			return err
		}
	}

	log.Info("template catalogue seeded", zap.Int("count", len(builtins)))
	return nil
}
