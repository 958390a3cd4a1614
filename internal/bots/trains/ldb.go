package trains

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultLDBURL is the National Rail Darwin live departure board endpoint.
const DefaultLDBURL = "https://lite.realtime.nationalrail.co.uk/OpenLDBWS/ldb12.asmx"

// Service is one row on a station departure board.
type Service struct {
	STD         string // scheduled departure, "15:04"
	ETD         string // estimated departure: a time, "On time", "Delayed", "Cancelled"
	Platform    string
	Destination string
}

// Key implements watch.Record. The scheduled time is the identity a
// passenger watches; everything else about the service may change.
func (s Service) Key() string { return s.STD }

// Fingerprint implements watch.Record. Estimate and platform are what a
// passenger standing on the concourse cares about.
func (s Service) Fingerprint() string { return s.ETD + "|" + s.Platform }

// Departed reports whether the service has left the station.
func (s Service) Departed() bool {
	return strings.Contains(s.ETD, "Departed")
}

// Board fetches live departure boards over the Darwin SOAP service.
type Board interface {
	Departures(ctx context.Context, crs string) ([]Service, error)
}

// LDBClient talks SOAP to the Darwin live departure board service.
type LDBClient struct {
	url    string
	token  string
	client *http.Client
}

// NewLDBClient builds a departure board client. url may be empty to use
// the public endpoint.
func NewLDBClient(url, token string) *LDBClient {
	if url == "" {
		url = DefaultLDBURL
	}
	return &LDBClient{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

const departureBoardEnvelope = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"
               xmlns:typ="http://thalesgroup.com/RTTI/2013-11-28/Token/types"
               xmlns:ldb="http://thalesgroup.com/RTTI/2021-11-01/ldb/">
  <soap:Header>
    <typ:AccessToken><typ:TokenValue>%s</typ:TokenValue></typ:AccessToken>
  </soap:Header>
  <soap:Body>
    <ldb:GetDepartureBoardRequest>
      <ldb:numRows>10</ldb:numRows>
      <ldb:crs>%s</ldb:crs>
    </ldb:GetDepartureBoardRequest>
  </soap:Body>
</soap:Envelope>`

// Departures implements Board.
func (c *LDBClient) Departures(ctx context.Context, crs string) ([]Service, error) {
	body := fmt.Sprintf(departureBoardEnvelope, c.token, strings.ToUpper(crs))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
	req.Header.Set("SOAPAction", "http://thalesgroup.com/RTTI/2021-11-01/ldb/GetDepartureBoard")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("departure board request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read departure board response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("departure board returned status %d", resp.StatusCode)
	}

	var envelope boardEnvelope
	if err := xml.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode departure board response: %w", err)
	}

	services := envelope.Body.Response.Result.Services.Rows
	out := make([]Service, 0, len(services))
	for _, row := range services {
		out = append(out, Service{
			STD:         row.STD,
			ETD:         row.ETD,
			Platform:    row.Platform,
			Destination: row.Destination.Location.Name,
		})
	}
	return out, nil
}

// SOAP response shape, namespace prefixes ignored.
type boardEnvelope struct {
	Body struct {
		Response struct {
			Result struct {
				Services struct {
					Rows []serviceRow `xml:"service"`
				} `xml:"trainServices"`
			} `xml:"GetStationBoardResult"`
		} `xml:"GetDepartureBoardResponse"`
	} `xml:"Body"`
}

type serviceRow struct {
	STD         string `xml:"std"`
	ETD         string `xml:"etd"`
	Platform    string `xml:"platform"`
	Destination struct {
		Location struct {
			Name string `xml:"locationName"`
		} `xml:"location"`
	} `xml:"destination"`
}
