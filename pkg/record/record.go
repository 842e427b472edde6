// Package record holds filing records as decoded from the source documents.
// Every field is the raw attribute text; normalization and parsing happen
// during resolution.
package record

type Client struct {
	Name             string `json:"name"`
	ClientID         string `json:"clientId"`
	Description      string `json:"description"`
	ContactName      string `json:"contactName"`
	Country          string `json:"country"`
	CountryPPB       string `json:"countryPPB"`
	State            string `json:"state"`
	StatePPB         string `json:"statePPB"`
	SelfFiler        string `json:"selfFiler"`
	StateOrLocalGovt string `json:"stateOrLocalGovt"`
}

type Registrant struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Address     string `json:"address"`
	Country     string `json:"country"`
	CountryPPB  string `json:"countryPPB"`
}

type Lobbyist struct {
	// FullName is formatted "Surname, First".
	FullName            string `json:"fullName"`
	CoveredGovtPosition string `json:"coveredGovtPosition"`
	OfficialPosition    string `json:"officialPosition"`
	ActivityInformation string `json:"activityInformation"`
}

type GovernmentEntity struct {
	Name string `json:"name"`
}

type Issue struct {
	Code          string `json:"code"`
	SpecificIssue string `json:"specificIssue"`
}

type Filing struct {
	ID       string `json:"id"`
	Year     string `json:"year"`
	Received string `json:"received"`
	Amount   string `json:"amount"`
	Type     string `json:"type"`
	Period   string `json:"period"`

	Client             Client             `json:"client"`
	Registrant         Registrant         `json:"registrant"`
	Lobbyists          []Lobbyist         `json:"lobbyists,omitempty"`
	GovernmentEntities []GovernmentEntity `json:"governmentEntities,omitempty"`
	Issues             []Issue            `json:"issues,omitempty"`

	// Source names the logical batch the record came from, such as the
	// archive entry it was read from.
	Source string `json:"source"`
}
