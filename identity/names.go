package identity

import (
	"math/rand/v2"
	"strings"
	"unicode"
)

var colors = []string{
	"amber", "aqua", "azure", "beige", "black", "blue", "bronze", "brown",
	"coral", "crimson", "cyan", "gold", "gray", "green", "indigo", "ivory",
	"jade", "lavender", "lime", "magenta", "maroon", "mint", "navy", "olive",
	"orange", "peach", "pink", "plum", "purple", "red", "rose", "ruby",
	"salmon", "scarlet", "silver", "tan", "teal", "turquoise", "violet", "white",
	"yellow",
}

var animals = []string{
	"albatross", "alpaca", "ant", "badger", "bat", "bear", "beaver", "bison",
	"camel", "cat", "cheetah", "cobra", "crane", "crow", "deer", "dolphin",
	"eagle", "falcon", "ferret", "fox", "gecko", "giraffe", "goose", "hawk",
	"hedgehog", "heron", "ibis", "jaguar", "koala", "lemur", "leopard", "lion",
	"lynx", "marten", "moose", "newt", "otter", "owl", "panda", "parrot",
	"penguin", "puma", "rabbit", "raven", "seal", "shark", "sloth", "swan",
	"tiger", "toucan", "turtle", "walrus", "whale", "wolf", "yak", "zebra",
}

// Picker returns a value in [0, n).
type Picker func(n int) int

// GenerateDisplayName returns a capitalised "Color Animal" pair.
func GenerateDisplayName(pick Picker) string {
	if pick == nil {
		pick = rand.IntN
	}
	return capitalize(colors[pick(len(colors))]) + " " + capitalize(animals[pick(len(animals))])
}

// GenerateClientID returns "client_" followed by a random base36 suffix.
func GenerateClientID(pick Picker) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	if pick == nil {
		pick = rand.IntN
	}
	var b strings.Builder
	b.WriteString(ClientIDPrefix)
	for range clientIDSuffixLen {
		b.WriteByte(alphabet[pick(len(alphabet))])
	}
	return b.String()
}

func capitalize(word string) string {
	if word == "" {
		return word
	}
	runes := []rune(word)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
