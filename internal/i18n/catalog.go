package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Message keys shared by the API and the CLI.
const (
	MsgBackendUnavailable = "policy backend unavailable"
	MsgNotAuthorized      = "not authorized"
	MsgCompileFailed      = "compile failed"
	MsgEnforcementOn      = "Enforcement: on"
	MsgEnforcementOff     = "Enforcement: off"
	MsgNoChanges          = "No changes detected."
	MsgPolicyDiffers      = "Compiled policy differs from installed policy:"
)

var german = map[string]string{
	MsgBackendUnavailable: "Richtlinien-Backend nicht verfügbar",
	MsgNotAuthorized:      "nicht autorisiert",
	MsgCompileFailed:      "Kompilierung fehlgeschlagen",
	MsgEnforcementOn:      "Durchsetzung: an",
	MsgEnforcementOff:     "Durchsetzung: aus",
	MsgNoChanges:          "Keine Änderungen gefunden.",
	MsgPolicyDiffers:      "Kompilierte Richtlinie weicht von der installierten ab:",
}

func init() {
	for key, msg := range german {
		message.SetString(language.German, key, msg)
	}
}
