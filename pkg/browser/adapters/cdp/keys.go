package cdp

import (
	"github.com/chromedp/chromedp/kb"

	"github.com/odvcencio/intest/pkg/browser"
)

var keyCodes = map[browser.Key]string{
	browser.KeyEnter:      kb.Enter,
	browser.KeyEscape:     kb.Escape,
	browser.KeyTab:        kb.Tab,
	browser.KeyBackspace:  kb.Backspace,
	browser.KeyDelete:     kb.Delete,
	browser.KeyArrowDown:  kb.ArrowDown,
	browser.KeyArrowUp:    kb.ArrowUp,
	browser.KeyArrowLeft:  kb.ArrowLeft,
	browser.KeyArrowRight: kb.ArrowRight,
	browser.KeyHome:       kb.Home,
	browser.KeyEnd:        kb.End,
	browser.KeyPageUp:     kb.PageUp,
	browser.KeyPageDown:   kb.PageDown,
	browser.KeyF1:         kb.F1,
	browser.KeyF2:         kb.F2,
	browser.KeyF3:         kb.F3,
	browser.KeyF4:         kb.F4,
	browser.KeyF5:         kb.F5,
	browser.KeyF6:         kb.F6,
	browser.KeyF7:         kb.F7,
	browser.KeyF8:         kb.F8,
	browser.KeyF9:         kb.F9,
	browser.KeyF10:        kb.F10,
	browser.KeyF11:        kb.F11,
	browser.KeyF12:        kb.F12,
}

// keySequence maps a key to the string chromedp.KeyEvent expects. Unknown
// names are sent verbatim, so single printable characters work too.
func keySequence(key browser.Key) string {
	if code, ok := keyCodes[browser.ParseKey(string(key))]; ok {
		return code
	}
	return string(key)
}
