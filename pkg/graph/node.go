package graph

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/lobbygraph/backend/pkg/record"
	"github.com/lobbygraph/backend/pkg/store"
)

// Node labels.
const (
	LabelClient           = "Client"
	LabelRegistrant       = "Registrant"
	LabelLobbyist         = "Lobbyist"
	LabelGovernmentEntity = "GovernmentEntity"
	LabelIssue            = "Issue"
	LabelFiling           = "Filing"
)

// Relationship types.
const (
	RelOnBehalfOf  = "ON_BEHALF_OF" // Filing -> Client
	RelFiled       = "FILED"        // Registrant -> Filing
	RelTargetedAt  = "TARGETED_AT"  // Filing -> GovernmentEntity
	RelAbout       = "ABOUT"        // Filing -> Issue
	RelLobbyingFor = "LOBBYING_FOR" // Lobbyist -> Filing
	RelEngages     = "ENGAGES"      // Client -> Registrant
	RelEmploys     = "EMPLOYS"      // Registrant -> Lobbyist
)

// node is the stored identity shared by every entity.
type node struct {
	id    string
	label string
	// fresh is set when the entity was installed in a cache during the
	// current record and cleared once the journal has recorded it.
	fresh bool
}

func (n *node) NodeID() string {
	return n.id
}

func (n *node) Ref() store.NodeRef {
	return store.NodeRef{Label: n.label, ID: n.id}
}

type Client struct {
	node
	Name  string
	Props map[string]any
}

// Registrant owns the set of clients that engaged it. The set only grows
// and is changed exclusively by the resolver.
type Registrant struct {
	node
	RegistrantID int64
	Props        map[string]any
	clients      map[string]struct{}
}

// Clients returns the node ids of engaging clients in sorted order.
func (r *Registrant) Clients() []string {
	return slices.Sorted(maps.Keys(r.clients))
}

// Lobbyist owns the set of registrants that employed it.
type Lobbyist struct {
	node
	Name      LobbyistName
	Props     map[string]any
	employers map[string]struct{}
}

// Employers returns the node ids of employing registrants in sorted order.
func (l *Lobbyist) Employers() []string {
	return slices.Sorted(maps.Keys(l.employers))
}

type GovernmentEntity struct {
	node
	Name string
}

type Issue struct {
	node
	Code string
}

func clientProps(key string, c record.Client) map[string]any {
	props := map[string]any{"name": key}
	if id, ok := parseInt(c.ClientID); ok {
		props["clientId"] = id
	}
	setText(props, "desc", c.Description)
	setText(props, "contactName", c.ContactName)
	setText(props, "country", c.Country)
	setText(props, "countryPPB", c.CountryPPB)
	setText(props, "state", c.State)
	setText(props, "statePPB", c.StatePPB)
	props["selfFilerInd"] = parseFlag(c.SelfFiler)
	props["stateLocalGovtInd"] = parseFlag(c.StateOrLocalGovt)
	return props
}

func registrantProps(id int64, r record.Registrant) map[string]any {
	props := map[string]any{"registrantId": id}
	setText(props, "name", r.Name)
	setText(props, "description", r.Description)
	setText(props, "address", r.Address)
	setText(props, "country", r.Country)
	setText(props, "countryPPB", r.CountryPPB)
	return props
}

func lobbyistProps(name LobbyistName, l record.Lobbyist) map[string]any {
	props := map[string]any{
		"surname":         name.Surname,
		"firstName":       name.FirstName,
		"govtPositionInd": isCovered(l.CoveredGovtPosition),
	}
	setText(props, "govtPositionDesc", l.OfficialPosition)
	setText(props, "activityInfo", l.ActivityInformation)
	return props
}

func isCovered(raw string) bool {
	v, ok := Normalize(raw)
	return ok && strings.EqualFold(v, "COVERED")
}

func parseInt(raw string) (int64, bool) {
	v, ok := Normalize(raw)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Indexes returns the identity-key indexes of every deduplicated kind.
func Indexes() []store.Index {
	return []store.Index{
		{Label: LabelClient, Props: []string{"name"}},
		{Label: LabelRegistrant, Props: []string{"registrantId"}},
		{Label: LabelLobbyist, Props: []string{"surname", "firstName"}},
		{Label: LabelGovernmentEntity, Props: []string{"name"}},
		{Label: LabelIssue, Props: []string{"code"}},
	}
}
