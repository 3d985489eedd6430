// Package localizer defines the display-text port.
package localizer

// Localizer returns display text for a message key.
// Unknown keys render as the key itself.
type Localizer interface {
	T(locale, key string, args ...any) string
}
