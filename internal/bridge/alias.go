// ABOUTME: Human-friendly alias generation for ephemeral sessions
// ABOUTME: Derives AdjectiveAnimal#### names deterministically from session identity

package bridge

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"regexp"
)

var adjectives = []string{
	"Amber", "Azure", "Bold", "Brave", "Bright", "Calm", "Clever", "Cosmic",
	"Crimson", "Daring", "Eager", "Electric", "Emerald", "Fierce", "Gentle",
	"Golden", "Hidden", "Iron", "Jade", "Keen", "Lucky", "Lunar", "Mellow",
	"Mighty", "Misty", "Noble", "Polar", "Quick", "Quiet", "Rapid", "Royal",
	"Rustic", "Scarlet", "Silent", "Silver", "Solar", "Stormy", "Swift",
	"Vivid", "Wild", "Wise", "Zesty",
}

var animals = []string{
	"Badger", "Bear", "Bison", "Crane", "Dolphin", "Eagle", "Falcon", "Fox",
	"Gecko", "Hawk", "Heron", "Ibis", "Jaguar", "Koala", "Lemur", "Lynx",
	"Marten", "Moose", "Narwhal", "Ocelot", "Osprey", "Otter", "Owl",
	"Panda", "Panther", "Puffin", "Raven", "Salmon", "Seal", "Stork",
	"Tiger", "Toucan", "Viper", "Walrus", "Weasel", "Wolf", "Wombat", "Wren",
}

var aliasPattern = regexp.MustCompile(`^[A-Z][a-z]+[A-Z][a-z]+\d{4}$`)

// NewAlias derives a stable display alias for a session. The same key and
// session always map to the same alias, so retries of a session start never
// mint a new name.
func NewAlias(publicKey, sessionID string) string {
	sum := sha256.Sum256([]byte(publicKey + ":" + sessionID))

	adj := adjectives[binary.BigEndian.Uint32(sum[0:4])%uint32(len(adjectives))]
	animal := animals[binary.BigEndian.Uint32(sum[4:8])%uint32(len(animals))]
	digits := binary.BigEndian.Uint32(sum[8:12]) % 10000

	return fmt.Sprintf("%s%s%04d", adj, animal, digits)
}

// ValidAlias reports whether s looks like an alias this package produced.
func ValidAlias(s string) bool {
	return aliasPattern.MatchString(s)
}
