package source

import (
	"encoding/xml"
	"io"

	"github.com/lobbygraph/backend/pkg/record"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type xmlFiling struct {
	ID       string `xml:"ID,attr"`
	Year     string `xml:"Year,attr"`
	Received string `xml:"Received,attr"`
	Amount   string `xml:"Amount,attr"`
	Type     string `xml:"Type,attr"`
	Period   string `xml:"Period,attr"`

	Registrant struct {
		ID          string `xml:"RegistrantID,attr"`
		Name        string `xml:"RegistrantName,attr"`
		Description string `xml:"GeneralDescription,attr"`
		Address     string `xml:"Address,attr"`
		Country     string `xml:"RegistrantCountry,attr"`
		CountryPPB  string `xml:"RegistrantPPBCountry,attr"`
	} `xml:"Registrant"`

	Client struct {
		Name             string `xml:"ClientName,attr"`
		Description      string `xml:"GeneralDescription,attr"`
		ClientID         string `xml:"ClientID,attr"`
		SelfFiler        string `xml:"SelfFiler,attr"`
		ContactName      string `xml:"ContactFullname,attr"`
		StateOrLocalGovt string `xml:"IsStateOrLocalGov,attr"`
		Country          string `xml:"ClientCountry,attr"`
		CountryPPB       string `xml:"ClientPPBCountry,attr"`
		State            string `xml:"ClientState,attr"`
		StatePPB         string `xml:"ClientPPBState,attr"`
	} `xml:"Client"`

	Lobbyists []struct {
		Name             string `xml:"LobbyistName,attr"`
		Covered          string `xml:"LobbyistCoveredGovPositionIndicator,attr"`
		OfficialPosition string `xml:"OfficialPosition,attr"`
		Activity         string `xml:"ActivityInformation,attr"`
	} `xml:"Lobbyists>Lobbyist"`

	GovernmentEntities []struct {
		Name string `xml:"GovEntityName,attr"`
	} `xml:"GovernmentEntities>GovernmentEntity"`

	Issues []struct {
		Code          string `xml:"Code,attr"`
		SpecificIssue string `xml:"SpecificIssue,attr"`
	} `xml:"Issues>Issue"`
}

func (f xmlFiling) record(source string) record.Filing {
	rec := record.Filing{
		ID:       f.ID,
		Year:     f.Year,
		Received: f.Received,
		Amount:   f.Amount,
		Type:     f.Type,
		Period:   f.Period,
		Source:   source,
		Client: record.Client{
			Name:             f.Client.Name,
			ClientID:         f.Client.ClientID,
			Description:      f.Client.Description,
			ContactName:      f.Client.ContactName,
			Country:          f.Client.Country,
			CountryPPB:       f.Client.CountryPPB,
			State:            f.Client.State,
			StatePPB:         f.Client.StatePPB,
			SelfFiler:        f.Client.SelfFiler,
			StateOrLocalGovt: f.Client.StateOrLocalGovt,
		},
		Registrant: record.Registrant{
			ID:          f.Registrant.ID,
			Name:        f.Registrant.Name,
			Description: f.Registrant.Description,
			Address:     f.Registrant.Address,
			Country:     f.Registrant.Country,
			CountryPPB:  f.Registrant.CountryPPB,
		},
	}
	for _, l := range f.Lobbyists {
		rec.Lobbyists = append(rec.Lobbyists, record.Lobbyist{
			FullName:            l.Name,
			CoveredGovtPosition: l.Covered,
			OfficialPosition:    l.OfficialPosition,
			ActivityInformation: l.Activity,
		})
	}
	for _, e := range f.GovernmentEntities {
		rec.GovernmentEntities = append(rec.GovernmentEntities, record.GovernmentEntity{Name: e.Name})
	}
	for _, i := range f.Issues {
		rec.Issues = append(rec.Issues, record.Issue{Code: i.Code, SpecificIssue: i.SpecificIssue})
	}
	return rec
}

// filingDecoder streams Filing elements out of one XML document.
type filingDecoder struct {
	dec    *xml.Decoder
	source string
}

// newFilingDecoder accepts UTF-8 or BOM-marked UTF-16 input.
func newFilingDecoder(r io.Reader, source string) *filingDecoder {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	dec := xml.NewDecoder(decoded)
	// The input is already UTF-8 whatever the declaration says.
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	return &filingDecoder{dec: dec, source: source}
}

// next returns the next filing or io.EOF.
func (d *filingDecoder) next() (record.Filing, error) {
	for {
		tok, err := d.dec.Token()
		if err != nil {
			return record.Filing{}, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "Filing" {
			continue
		}
		var f xmlFiling
		if err := d.dec.DecodeElement(&f, &se); err != nil {
			return record.Filing{}, err
		}
		return f.record(d.source), nil
	}
}
