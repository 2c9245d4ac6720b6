package review

import (
	"fmt"
	"strings"

	"github.com/commonsforum/sieve/automod/risk"
)

// A reviewer-selectable moderation action. The set is closed: unknown macro ids are rejected when parsed.
type Macro string

const (
	MacroRemove            Macro = "remove"
	MacroEditRequest       Macro = "edit_request"
	MacroAgeGateBlur       Macro = "age_gate_blur"
	MacroLimitDistribution Macro = "limit_distribution"
	MacroWarning           Macro = "warning"
	MacroTempSuspend       Macro = "temp_suspend"
	MacroPermBan           Macro = "perm_ban"
	MacroKillSwitch        Macro = "kill_switch"
)

var AllMacros = []Macro{
	MacroRemove,
	MacroEditRequest,
	MacroAgeGateBlur,
	MacroLimitDistribution,
	MacroWarning,
	MacroTempSuspend,
	MacroPermBan,
	MacroKillSwitch,
}

func ParseMacro(raw string) (Macro, error) {
	m := Macro(strings.TrimSpace(raw))
	switch m {
	case MacroRemove, MacroEditRequest, MacroAgeGateBlur, MacroLimitDistribution,
		MacroWarning, MacroTempSuspend, MacroPermBan, MacroKillSwitch:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMacro, raw)
}

// The visibility state content ends up in after this macro is applied.
func (m Macro) ResultState() risk.State {
	switch m {
	case MacroRemove, MacroKillSwitch:
		return risk.StateUnpublished
	case MacroEditRequest, MacroAgeGateBlur, MacroLimitDistribution:
		return risk.StateLimited
	case MacroWarning:
		return risk.StatePublish
	case MacroTempSuspend, MacroPermBan:
		return risk.StateBlocked
	default:
		panic(fmt.Sprintf("unhandled moderation macro: %q", string(m)))
	}
}
