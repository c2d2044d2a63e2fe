package session

import (
	"net/url"
)

// PopupName is the window name given to the authorization popup.  A window
// with this name and an opener defers its code exchange to the opener.
const PopupName = "uas-popup"

const (
	popupWidth  = 500
	popupHeight = 600
)

// Bounds is the position and outer size of a window.
type Bounds struct {
	X, Y          int
	Width, Height int
}

// PopupFeatures is the geometry requested for a popup window.
type PopupFeatures struct {
	Width, Height int
	Left, Top     int
}

// centeredPopup returns a popupWidth x popupHeight window centered
// horizontally over b and placed slightly above its vertical middle.
func centeredPopup(b Bounds) PopupFeatures {
	return PopupFeatures{
		Width:  popupWidth,
		Height: popupHeight,
		Left:   b.X + (b.Width-popupWidth)/2,
		Top:    b.Y + int(float64(b.Height-popupHeight)/2.5),
	}
}

// Window is the page environment a Manager runs in.  In a browser it's backed
// by window, location and history; elsewhere NoWindow or a test double is
// used.
type Window interface {
	// Location returns the page's current URL.
	Location() *url.URL

	// ReplaceState rewrites the visible URL without navigating or reloading.
	ReplaceState(u *url.URL)

	// Reload reloads the page.
	Reload()

	// Name returns the window's name.
	Name() string

	// HasOpener reports whether the window was opened by another window.
	HasOpener() bool

	// Bounds returns the window's screen position and outer size.
	Bounds() Bounds

	// Open opens rawURL in a new window called name.  It returns an error
	// wrapping ErrPopupBlocked when the window could not be opened.
	Open(rawURL, name string, f PopupFeatures) (Popup, error)
}

// Popup is a window opened by Window.Open.
type Popup interface {
	// Closed reports whether the user closed the popup.
	Closed() bool

	// Location returns the popup's current URL.  While the popup shows
	// another origin (the identity service's pages) the read fails with an
	// error wrapping ErrCrossOrigin; pollers treat that as "not yet".
	Location() (*url.URL, error)

	// Close closes the popup.
	Close()
}

// NoWindow is the Window used outside of a browser: it has an empty location,
// ignores history and reload requests and can't open popups.
type NoWindow struct{}

// ensure that NoWindow implements the Window interface
var _ Window = NoWindow{}

func (NoWindow) Location() *url.URL      { return &url.URL{} }
func (NoWindow) ReplaceState(_ *url.URL) {}
func (NoWindow) Reload()                 {}
func (NoWindow) Name() string            { return "" }
func (NoWindow) HasOpener() bool         { return false }
func (NoWindow) Bounds() Bounds          { return Bounds{} }

// Open always fails with ErrPopupBlocked.
func (NoWindow) Open(_, _ string, _ PopupFeatures) (Popup, error) {
	return nil, ErrPopupBlocked
}
