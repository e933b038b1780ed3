package notify

import (
	"fmt"
	"html"

	"github.com/Albermonte/validator-election-bot/internal/rewards"
	"github.com/Albermonte/validator-election-bot/internal/slots"
	"github.com/Albermonte/validator-election-bot/internal/utils"
)

// FormatSlots renders the slot summary for the epoch the report applies to.
func FormatSlots(r slots.Report) Message {
	addr := html.EscapeString(r.Validator)
	if !r.Assigned {
		return Message{
			Text: fmt.Sprintf("Validator <code>%s</code> has not been assigned any slots in epoch %d 🥲", addr, r.UpcomingEpoch()),
			Mode: ParseModeHTML,
		}
	}
	return Message{
		Text: fmt.Sprintf("Validator <code>%s</code> has been assigned <b>%d %s</b> in epoch %d",
			addr, r.NumSlots, utils.Plural(int(r.NumSlots), "slot"), r.UpcomingEpoch()),
		Mode: ParseModeHTML,
	}
}

// FormatRewards renders the reward summary. A missing price is shown as "n/a".
func FormatRewards(r rewards.Result) Message {
	price := "n/a"
	if r.Price.Valid {
		price = r.Price.Decimal.String()
	}
	return Message{
		Text: fmt.Sprintf("Validator total rewards:\n <b>%s NIM</b>\n <b>%s USD</b>\n\n Price:\n <b>%s NIM/USD</b>",
			utils.FormatAmount(r.Native), utils.FormatAmount(r.Fiat), price),
		Mode: ParseModeHTML,
	}
}
