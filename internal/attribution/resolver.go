// Package attribution decides, for one raw notification, whether the message
// is outgoing ("self") or incoming, and who the other party is. Each
// messaging app encodes the sender differently in its notification fields,
// so policy is per source app.
package attribution

import (
	"strings"

	"github.com/chatmind/chatmind/internal/core"
)

// Result of resolving one notification.
type Result struct {
	Outgoing bool
	Speaker  string // core.SelfSender for outgoing messages
	// DisplayName is this notification's contribution to the conversation's
	// display name. Empty means "do not overwrite": outgoing messages never
	// change the counterpart's name.
	DisplayName string
}

// policy resolves attribution for one source app's notification encoding.
type policy func(title, subText string, extras map[string]string) Result

// policies is the closed per-app table. Unknown apps fall back to the
// default policy.
var policies = map[core.SourceApp]policy{
	core.SourceInstagram: resolveHandleTitle,
	core.SourceWhatsApp:  resolveDefault,
	core.SourceTelegram:  resolveDefault,
	core.SourceSignal:    resolveDefault,
}

// Resolve applies the source app's attribution policy. It never fails:
// unresolvable inputs degrade to an incoming message from "Unknown".
func Resolve(app core.SourceApp, title, subText string, extras map[string]string) Result {
	p, ok := policies[app]
	if !ok {
		p = resolveDefault
	}
	return p(title, subText, extras)
}

// resolveDefault covers apps that put the sender (or the self sentinel) in
// the notification title, with an optional sender hint in the sub-text.
func resolveDefault(title, subText string, _ map[string]string) Result {
	if strings.EqualFold(strings.TrimSpace(title), core.SelfSender) {
		return Result{Outgoing: true, Speaker: core.SelfSender}
	}

	name := subText
	if name == "" {
		name = title
	}
	return incoming(name)
}

// resolveHandleTitle covers the app that encodes the title as
// "<handle>: <name>". The name after the last colon is compared against the
// self-display-name extra to spot outgoing messages.
func resolveHandleTitle(title, _ string, extras map[string]string) Result {
	self := extras[core.ExtraSelfDisplayName]

	name := title
	if idx := strings.LastIndex(title, ":"); idx >= 0 {
		name = strings.TrimSpace(title[idx+1:])
	}

	if self != "" && strings.EqualFold(name, self) {
		return Result{Outgoing: true, Speaker: core.SelfSender}
	}
	return incoming(name)
}

func incoming(name string) Result {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Unknown"
	}
	return Result{Outgoing: false, Speaker: name, DisplayName: name}
}
