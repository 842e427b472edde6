package source

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/lobbygraph/backend/pkg/loader"
	"github.com/lobbygraph/backend/pkg/record"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

const filingsXML = `<?xml version="1.0" encoding="UTF-16"?>
<PublicFilings>
  <Filing ID="F-1" Year="2019" Received="2019-07-22T10:57:28.753" Amount="5000" Type="Q2" Period="2nd Quarter (Apr 1 - June 30)">
    <Registrant RegistrantID="100" RegistrantName="Lobby LLC" GeneralDescription="Government relations" Address="1 Main St&#13;&#10;Suite 2" RegistrantCountry="USA" RegistrantPPBCountry="USA"/>
    <Client ClientName="Acme Co" GeneralDescription="Widgets" ClientID="7" SelfFiler="FALSE" ContactFullname="Roe, Rick" IsStateOrLocalGov="FALSE" ClientCountry="USA" ClientPPBCountry="USA" ClientState="VA" ClientPPBState="VA"/>
    <Lobbyists>
      <Lobbyist LobbyistName="Doe, Jane" LobbyistCoveredGovPositionIndicator="COVERED" OfficialPosition="Staff" ActivityInformation=""/>
      <Lobbyist LobbyistName="Smith, John" LobbyistCoveredGovPositionIndicator="NOT COVERED" OfficialPosition="" ActivityInformation=""/>
    </Lobbyists>
    <GovernmentEntities>
      <GovernmentEntity GovEntityName="SENATE"/>
    </GovernmentEntities>
    <Issues>
      <Issue Code="TAX" SpecificIssue="Tax reform"/>
    </Issues>
  </Filing>
  <Filing ID="F-2" Year="2019" Received="2019-07-23T08:00:00" Amount="" Type="Q2" Period="">
    <Registrant RegistrantID="100" RegistrantName="Lobby LLC"/>
    <Client ClientName="Acme Co"/>
  </Filing>
</PublicFilings>
`

func utf16(t *testing.T, s string) []byte {
	t.Helper()
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().String(s)
	require.NoError(t, err)
	return []byte(out)
}

type memoryArchives struct {
	data     map[string][]byte
	released []string
}

func (m *memoryArchives) GetArchive(ctx context.Context, file loader.ArchiveFile) ([]byte, error) {
	b, ok := m.data[file.FilePath]
	if !ok {
		return nil, errors.New("not found")
	}
	return b, nil
}

func (m *memoryArchives) Release(file loader.ArchiveFile) {
	m.released = append(m.released, file.FilePath)
}

func buildZip(t *testing.T, entries map[string][]byte, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(entries[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func drain(t *testing.T, s interface {
	Next(context.Context) (record.Filing, error)
}) []record.Filing {
	t.Helper()
	var out []record.Filing
	for {
		rec, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestArchiveSourceReadsUTF16AndUTF8Entries(t *testing.T) {
	utf8Doc := strings.Replace(filingsXML, `encoding="UTF-16"`, `encoding="UTF-8"`, 1)
	archive := buildZip(t, map[string][]byte{
		"2019_2_1.xml": utf16(t, filingsXML),
		"README.txt":   []byte("not a filing"),
		"2019_2_2.xml": []byte(utf8Doc),
	}, "2019_2_1.xml", "README.txt", "2019_2_2.xml")

	mem := &memoryArchives{data: map[string][]byte{"lda/2019_2.zip": archive}}
	src := NewArchiveSource([]loader.ArchiveFile{
		loader.NewArchiveFile(loader.NewArchiveFileParams{FilePath: "lda/2019_2.zip", Loader: mem}),
	})
	defer src.Close()

	recs := drain(t, src)
	require.Len(t, recs, 4)
	assert.Equal(t, []string{"lda/2019_2.zip"}, mem.released)

	first := recs[0]
	assert.Equal(t, "2019_2.zip/2019_2_1.xml", first.Source)
	assert.Equal(t, "F-1", first.ID)
	assert.Equal(t, "5000", first.Amount)
	assert.Equal(t, "2019-07-22T10:57:28.753", first.Received)
	assert.Equal(t, "100", first.Registrant.ID)
	assert.Equal(t, "1 Main St\r\nSuite 2", first.Registrant.Address)
	assert.Equal(t, "Acme Co", first.Client.Name)
	assert.Equal(t, "7", first.Client.ClientID)
	assert.Equal(t, "Roe, Rick", first.Client.ContactName)
	require.Len(t, first.Lobbyists, 2)
	assert.Equal(t, "Doe, Jane", first.Lobbyists[0].FullName)
	assert.Equal(t, "COVERED", first.Lobbyists[0].CoveredGovtPosition)
	assert.Equal(t, []record.GovernmentEntity{{Name: "SENATE"}}, first.GovernmentEntities)
	assert.Equal(t, []record.Issue{{Code: "TAX", SpecificIssue: "Tax reform"}}, first.Issues)

	assert.Equal(t, "F-2", recs[1].ID)
	assert.Empty(t, recs[1].Amount)
	assert.Empty(t, recs[1].Lobbyists)

	assert.Equal(t, "2019_2.zip/2019_2_2.xml", recs[2].Source)
	assert.Equal(t, first.Client, recs[2].Client)
}

func TestArchiveSourceMissingArchive(t *testing.T) {
	src := NewArchiveSource([]loader.ArchiveFile{
		loader.NewArchiveFile(loader.NewArchiveFileParams{FilePath: "gone.zip", Loader: &memoryArchives{}}),
	})
	_, err := src.Next(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}

func TestArchiveSourceCorruptZip(t *testing.T) {
	mem := &memoryArchives{data: map[string][]byte{"bad.zip": []byte("not a zip")}}
	src := NewArchiveSource([]loader.ArchiveFile{
		loader.NewArchiveFile(loader.NewArchiveFileParams{FilePath: "bad.zip", Loader: mem}),
	})
	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, zip.ErrFormat)
}

func TestArchiveSourceEmpty(t *testing.T) {
	_, err := NewArchiveSource(nil).Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderSourceTruncatedDocument(t *testing.T) {
	doc := filingsXML[:strings.Index(filingsXML, "<Issues>")]
	src := NewReaderSource(strings.NewReader(doc), "cut.xml")
	_, err := src.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cut.xml")
}

func TestReaderSourceUTF8(t *testing.T) {
	doc := strings.Replace(filingsXML, `encoding="UTF-16"`, `encoding="UTF-8"`, 1)
	recs := drain(t, NewReaderSource(strings.NewReader(doc), "one.xml"))
	require.Len(t, recs, 2)
	assert.Equal(t, "one.xml", recs[0].Source)
}

func TestArchiveSourceTruncatedEntryNamesEntry(t *testing.T) {
	doc := strings.Replace(filingsXML, `encoding="UTF-16"`, `encoding="UTF-8"`, 1)
	doc = doc[:strings.Index(doc, "<Issues>")]
	archive := buildZip(t, map[string][]byte{"cut.xml": []byte(doc)}, "cut.xml")
	mem := &memoryArchives{data: map[string][]byte{"2019_3.zip": archive}}
	src := NewArchiveSource([]loader.ArchiveFile{
		loader.NewArchiveFile(loader.NewArchiveFileParams{FilePath: "2019_3.zip", Loader: mem}),
	})
	defer src.Close()

	_, err := src.Next(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "2019_3.zip/cut.xml")
}
