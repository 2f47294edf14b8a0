package bridge

import (
	"errors"
	"fmt"

	"golang.org/x/text/language"
)

var (
	// ErrBusy is returned by [Bridge.Begin] when a session is already
	// connecting or active.
	ErrBusy = errors.New("bridge: session already running")

	// ErrStopped is returned by [Bridge.Begin] when the attempt was cancelled
	// by [Bridge.End] before the session became active.
	ErrStopped = errors.New("bridge: start cancelled")
)

// State is the bridge lifecycle state.
type State int

const (
	// StateIdle means no session and no devices are held.
	StateIdle State = iota

	// StateConnecting means devices are being opened or the model session is
	// waiting for its open acknowledgement.
	StateConnecting

	// StateActive means audio flows in both directions.
	StateActive
)

// String returns the wire name of s.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Kind classifies errors shown to the user.
type Kind int

const (
	// KindPermission: the microphone permission was refused.
	KindPermission Kind = iota + 1

	// KindDevice: an input or output device could not be opened.
	KindDevice

	// KindTransport: the model session failed during handshake or while active.
	KindTransport
)

// String returns the wire name of k.
func (k Kind) String() string {
	switch k {
	case KindPermission:
		return "permission"
	case KindDevice:
		return "device"
	case KindTransport:
		return "transport"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// UserError is a failure that ended a session. Message is short, localized,
// and safe to show; Err carries the underlying cause for logs.
type UserError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *UserError) Error() string {
	if e.Err == nil {
		return "bridge: " + e.Kind.String()
	}
	return fmt.Sprintf("bridge: %s: %v", e.Kind, e.Err)
}

func (e *UserError) Unwrap() error { return e.Err }

func newUserError(kind Kind, locale string, err error) *UserError {
	return &UserError{Kind: kind, Message: Localize(locale, kind), Err: err}
}

// Status is a snapshot of the bridge state.
type Status struct {
	State State

	// Error is set when the last session ended in a failure. It is cleared
	// by the next [Bridge.Begin].
	Error *UserError

	// SessionID identifies the current or most recent session.
	SessionID string
}

// ── Localized messages ──────────────────────────────────────────────────────

var supportedLocales = []language.Tag{
	language.English,
	language.German,
	language.Spanish,
	language.French,
	language.Hindi,
}

var localeMatcher = language.NewMatcher(supportedLocales)

// userMessages is indexed like supportedLocales.
var userMessages = []map[Kind]string{
	{
		KindPermission: "Microphone access was denied. Allow it and try again.",
		KindDevice:     "No usable microphone or speaker was found.",
		KindTransport:  "The connection to the assistant was lost. Please try again.",
	},
	{
		KindPermission: "Der Mikrofonzugriff wurde verweigert. Bitte erlauben und erneut versuchen.",
		KindDevice:     "Kein nutzbares Mikrofon oder Lautsprecher gefunden.",
		KindTransport:  "Die Verbindung zum Assistenten wurde unterbrochen. Bitte erneut versuchen.",
	},
	{
		KindPermission: "Se denegó el acceso al micrófono. Permítelo e inténtalo de nuevo.",
		KindDevice:     "No se encontró un micrófono o altavoz utilizable.",
		KindTransport:  "Se perdió la conexión con el asistente. Inténtalo de nuevo.",
	},
	{
		KindPermission: "L'accès au micro a été refusé. Autorisez-le et réessayez.",
		KindDevice:     "Aucun micro ou haut-parleur utilisable n'a été trouvé.",
		KindTransport:  "La connexion avec l'assistant a été perdue. Veuillez réessayer.",
	},
	{
		KindPermission: "माइक्रोफ़ोन की अनुमति नहीं मिली। अनुमति दें और फिर से कोशिश करें।",
		KindDevice:     "कोई उपयोगी माइक्रोफ़ोन या स्पीकर नहीं मिला।",
		KindTransport:  "सहायक से कनेक्शन टूट गया। कृपया फिर से कोशिश करें।",
	},
}

// Localize returns the user message for kind in the supported language that
// best matches locale (a BCP 47 tag or Accept-Language value). Unknown or
// empty locales fall back to English.
func Localize(locale string, kind Kind) string {
	_, i := language.MatchStrings(localeMatcher, locale)
	if i < 0 || i >= len(userMessages) {
		i = 0
	}
	if msg, ok := userMessages[i][kind]; ok {
		return msg
	}
	return userMessages[0][KindTransport]
}
