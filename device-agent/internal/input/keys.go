package input

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/juliusbiascan/EduInsight-Project-sub000/pkg/protocol"
)

var ErrUnknownKey = errors.New("unknown key")

// Browser KeyboardEvent.key names that differ from synthesizer tokens.
var namedKeys = map[string]string{
	"enter":       "enter",
	"return":      "enter",
	"backspace":   "backspace",
	"tab":         "tab",
	"escape":      "esc",
	"esc":         "esc",
	" ":           "space",
	"space":       "space",
	"spacebar":    "space",
	"delete":      "delete",
	"del":         "delete",
	"insert":      "insert",
	"arrowup":     "up",
	"arrowdown":   "down",
	"arrowleft":   "left",
	"arrowright":  "right",
	"up":          "up",
	"down":        "down",
	"left":        "left",
	"right":       "right",
	"home":        "home",
	"end":         "end",
	"pageup":      "pageup",
	"pagedown":    "pagedown",
	"capslock":    "capslock",
	"printscreen": "printscreen",
	"shift":       "shift",
	"control":     "ctrl",
	"ctrl":        "ctrl",
	"alt":         "alt",
	"meta":        "cmd",
	"os":          "cmd",

	"audiovolumeup":   "audio_vol_up",
	"audiovolumedown": "audio_vol_down",
	"audiovolumemute": "audio_mute",
}

// Modifier tokens after protocol.NormalizeModifier, in synthesizer form.
var modifierKeys = map[string]string{
	protocol.ModShift:   "shift",
	protocol.ModControl: "ctrl",
	protocol.ModAlt:     "alt",
	protocol.ModCommand: "cmd",
}

// KeyToken maps a browser key name onto the synthesizer's key token.
// Printable single characters map to themselves; an upper-case letter maps
// to its lower-case form and reports that shift is implied.
func KeyToken(key string) (token string, shift bool, err error) {
	if utf8.RuneCountInString(key) == 1 {
		r, _ := utf8.DecodeRuneInString(key)
		switch {
		case r == ' ':
			return "space", false, nil
		case unicode.IsUpper(r):
			return string(unicode.ToLower(r)), true, nil
		case unicode.IsPrint(r):
			return key, false, nil
		}
	}

	name := strings.ToLower(key)
	if t, ok := namedKeys[name]; ok {
		return t, false, nil
	}
	if len(name) >= 2 && name[0] == 'f' {
		if n, err := strconv.Atoi(name[1:]); err == nil && n >= 1 && n <= 24 && name[1] != '0' {
			return name, false, nil
		}
	}
	return "", false, fmt.Errorf("%w: %q", ErrUnknownKey, key)
}

// ModifierTokens normalizes modifiers into synthesizer tokens, dropping
// duplicates and keeping their order.
func ModifierTokens(mods []string) ([]string, error) {
	out := make([]string, 0, len(mods))
	seen := make(map[string]bool, len(mods))
	for _, m := range mods {
		norm, ok := protocol.NormalizeModifier(m)
		if !ok {
			return nil, fmt.Errorf("%w: modifier %q", ErrUnknownKey, m)
		}
		tok := modifierKeys[norm]
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out, nil
}
