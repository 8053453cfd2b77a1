package protocol

import "crowdplay/combiner"

// keyCodes maps browser KeyboardEvent.code values to host keys.
var keyCodes = map[string]combiner.Key{
	"KeyW":       "w",
	"KeyA":       "a",
	"KeyS":       "s",
	"KeyD":       "d",
	"KeyQ":       "q",
	"KeyE":       "e",
	"KeyR":       "r",
	"Enter":      "enter",
	"Space":      "space",
	"ArrowUp":    "up",
	"ArrowLeft":  "left",
	"ArrowRight": "right",
	"ArrowDown":  "down",
	"Digit1":     "1",
	"Digit2":     "2",
	"Digit3":     "3",
	"Digit4":     "4",
	"Digit5":     "5",
	"Digit6":     "6",
	"Digit7":     "7",
	"Digit8":     "8",
	"Digit9":     "9",
}

// TranslateKeyCode returns the host key for a browser key code.
func TranslateKeyCode(code string) (combiner.Key, bool) {
	key, ok := keyCodes[code]
	return key, ok
}

// KeyCodes returns every supported browser key code.
func KeyCodes() []string {
	codes := make([]string, 0, len(keyCodes))
	for code := range keyCodes {
		codes = append(codes, code)
	}
	return codes
}
