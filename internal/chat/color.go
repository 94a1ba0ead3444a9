package chat

import "unicode/utf16"

// Palette is the fixed set of message colours.
var Palette = []string{
	"#00ff00",
	"#00ffff",
	"#ff00ff",
	"#ffff00",
	"#ff9900",
	"#ff0000",
	"#0099ff",
	"#ccff00",
}

// MarkerColor is used for clear markers.
const MarkerColor = "#ff0000"

// Color returns the palette colour for unitID. The hash runs over UTF-16
// code units with 32-bit shift wrap-around so every client, whatever it is
// written in, derives the same colour for the same unit.
func Color(unitID string) string {
	var h int64
	for _, c := range utf16.Encode([]rune(unitID)) {
		shifted := int32(h) << 5
		h = int64(c) + int64(shifted) - h
	}
	if h < 0 {
		h = -h
	}
	return Palette[h%int64(len(Palette))]
}
