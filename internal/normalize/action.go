// Package normalize converts broker-native vocabularies — action encodings,
// status tokens, order-type codes, and symbol formats — into one canonical
// vocabulary. All mapping lives here; call sites never do ad hoc string
// checks against broker spellings.
package normalize

import (
	"fmt"
	"log"
	"strings"

	"trading-execv1/internal/model"
)

const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	// ActionExitSentinel marks an exit whose entry side could not be
	// resolved. It is stored explicitly rather than silently picking a side.
	ActionExitSentinel = "EXIT"
)

// ActionOK maps any side-shaped value (model.Side, plain string in any
// case, namespaced strings like "SIDE.BUY", broker numeric codes) onto
// BUY/SELL. ok is false when the input could not be resolved.
func ActionOK(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case nil:
		return ActionBuy, false
	case model.Side:
		s = string(t)
	case string:
		s = t
	case fmt.Stringer:
		s = t.String()
	default:
		s = fmt.Sprintf("%v", t)
	}
	s = strings.ToUpper(strings.TrimSpace(s))
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:] // "SIDE.BUY" → "BUY"
	}
	switch s {
	case "BUY", "B", "1":
		return ActionBuy, true
	case "SELL", "S", "-1":
		return ActionSell, true
	}
	return ActionBuy, false
}

// Action is ActionOK with the documented fail-open default: unresolvable
// input becomes BUY. The default is logged because it silently assumes a
// side; callers that can reject instead should use ActionOK.
func Action(v any) string {
	a, ok := ActionOK(v)
	if !ok {
		log.Printf("[normalize] unresolvable action %v, defaulting to BUY", v)
	}
	return a
}

// ExitAction returns the structural inverse of a normalized entry action.
// Anything other than BUY/SELL yields the EXIT sentinel.
func ExitAction(origSide string) string {
	switch origSide {
	case ActionBuy:
		return ActionSell
	case ActionSell:
		return ActionBuy
	}
	return ActionExitSentinel
}
