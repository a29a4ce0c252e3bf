package presence

// palette is the bounded set of display colors handed out to participants.
// Rooms assign colors round-robin, so colors only repeat once a room has
// more concurrent participants than palette entries.
var palette = []string{
	"#f44336",
	"#2196f3",
	"#4caf50",
	"#ff9800",
	"#9c27b0",
	"#00bcd4",
	"#e91e63",
	"#8bc34a",
}

// ColorAt returns the palette color for the n-th join in a room.
func ColorAt(n int) string {
	if n < 0 {
		n = -n
	}
	return palette[n%len(palette)]
}

// PaletteSize returns the number of distinct display colors.
func PaletteSize() int {
	return len(palette)
}
