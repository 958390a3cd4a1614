package trains

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const boardResponse = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">
  <soap:Body>
    <GetDepartureBoardResponse xmlns="http://thalesgroup.com/RTTI/2021-11-01/ldb/">
      <GetStationBoardResult xmlns:lt="http://thalesgroup.com/RTTI/2012-01-13/ldb/types">
        <lt:locationName>London Kings Cross</lt:locationName>
        <lt:crs>KGX</lt:crs>
        <lt:trainServices>
          <lt:service>
            <lt:std>18:45</lt:std>
            <lt:etd>On time</lt:etd>
            <lt:platform>4</lt:platform>
            <lt:destination>
              <lt:location><lt:locationName>Leeds</lt:locationName></lt:location>
            </lt:destination>
          </lt:service>
          <lt:service>
            <lt:std>18:52</lt:std>
            <lt:etd>Delayed</lt:etd>
            <lt:destination>
              <lt:location><lt:locationName>York</lt:locationName></lt:location>
            </lt:destination>
          </lt:service>
        </lt:trainServices>
      </GetStationBoardResult>
    </GetDepartureBoardResponse>
  </soap:Body>
</soap:Envelope>`

func TestDeparturesParsesBoard(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/soap+xml")
		// The action namespace must match the one the envelope declares.
		assert.Equal(t, "http://thalesgroup.com/RTTI/2021-11-01/ldb/GetDepartureBoard", r.Header.Get("SOAPAction"))
		_, _ = w.Write([]byte(boardResponse))
	}))
	defer srv.Close()

	c := NewLDBClient(srv.URL, "test-token")
	services, err := c.Departures(context.Background(), "kgx")
	require.NoError(t, err)

	assert.Contains(t, gotBody, "<typ:TokenValue>test-token</typ:TokenValue>")
	assert.Contains(t, gotBody, "<ldb:crs>KGX</ldb:crs>", "station code is uppercased")

	require.Len(t, services, 2)
	assert.Equal(t, Service{STD: "18:45", ETD: "On time", Platform: "4", Destination: "Leeds"}, services[0])
	assert.Equal(t, Service{STD: "18:52", ETD: "Delayed", Destination: "York"}, services[1])
}

func TestDefaultEndpointMatchesEnvelopeVersion(t *testing.T) {
	assert.Contains(t, DefaultLDBURL, "ldb12.asmx")
	assert.Contains(t, departureBoardEnvelope, "RTTI/2021-11-01/ldb/")
}

func TestDeparturesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad token", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewLDBClient(srv.URL, "bad")
	_, err := c.Departures(context.Background(), "KGX")
	assert.Error(t, err)
}

func TestServiceFingerprint(t *testing.T) {
	s := Service{STD: "18:45", ETD: "On time", Platform: "4"}
	assert.Equal(t, "18:45", s.Key())
	assert.Equal(t, "On time|4", s.Fingerprint())
	assert.False(t, s.Departed())
	assert.True(t, Service{ETD: "Departed"}.Departed())
}
