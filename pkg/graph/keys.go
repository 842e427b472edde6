package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// LobbyistName is the identity key of a lobbyist.
type LobbyistName struct {
	Surname   string
	FirstName string
}

func (n LobbyistName) String() string {
	return n.Surname + ", " + n.FirstName
}

// ClientKey returns the normalized client name. Case is preserved.
func ClientKey(name string) (string, error) {
	key, ok := Normalize(name)
	if !ok {
		return "", fmt.Errorf("%w: client name is empty", ErrMalformedRecord)
	}
	return key, nil
}

// LobbyistKey splits a "Surname, First" name on the first comma and
// upper-cases both halves. Names without a comma are reported as absent.
func LobbyistKey(fullName string) (LobbyistName, bool) {
	surname, first, ok := strings.Cut(fullName, ",")
	if !ok {
		return LobbyistName{}, false
	}
	n := LobbyistName{
		Surname:   strings.ToUpper(strings.TrimSpace(surname)),
		FirstName: strings.ToUpper(strings.TrimSpace(first)),
	}
	if n.Surname == "" && n.FirstName == "" {
		return LobbyistName{}, false
	}
	return n, true
}

// RegistrantKey parses the numeric registrant ID.
func RegistrantKey(id string) (int64, error) {
	s := strings.TrimSpace(id)
	if s == "" {
		return 0, fmt.Errorf("%w: registrant id is empty", ErrMalformedRecord)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: registrant id %q: %w", ErrMalformedRecord, s, err)
	}
	return v, nil
}

func EntityKey(name string) (string, bool) {
	return Normalize(name)
}

func IssueKey(code string) (string, bool) {
	return Normalize(code)
}
