package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// nvrSource talks to the NVR's local REST API: list cameras, list motion
// events in a window, download the recorded clip.
type nvrSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewNVRSource builds a ClipSource over the NVR REST API.
func NewNVRSource(baseURL, apiKey string) ClipSource {
	return &nvrSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type nvrDevice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type nvrEvent struct {
	Camera string `json:"camera"`
	Start  int64  `json:"start"` // unix milliseconds
}

func (s *nvrSource) Devices(ctx context.Context) ([]Device, error) {
	var raw []nvrDevice
	if err := s.getJSON(ctx, "/api/cameras", nil, &raw); err != nil {
		return nil, err
	}
	devices := make([]Device, len(raw))
	for i, d := range raw {
		devices[i] = Device{ID: d.ID, Name: d.Name}
	}
	return devices, nil
}

func (s *nvrSource) Clips(ctx context.Context, deviceID string, start, end time.Time) ([]Clip, error) {
	query := url.Values{
		"camera": {deviceID},
		"start":  {strconv.FormatInt(start.UnixMilli(), 10)},
		"end":    {strconv.FormatInt(end.UnixMilli(), 10)},
	}
	var raw []nvrEvent
	if err := s.getJSON(ctx, "/api/events/motion", query, &raw); err != nil {
		return nil, err
	}
	clips := make([]Clip, len(raw))
	for i, e := range raw {
		clips[i] = Clip{DeviceID: e.Camera, Start: time.UnixMilli(e.Start)}
	}
	return clips, nil
}

// Download streams a clip's video into path. The file is written via a
// temp name and renamed so a crash never leaves a half clip behind.
func (s *nvrSource) Download(ctx context.Context, clip Clip, path string) error {
	query := url.Values{
		"camera": {clip.DeviceID},
		"start":  {strconv.FormatInt(clip.Start.UnixMilli(), 10)},
	}
	req, err := s.newRequest(ctx, "/api/video/export", query)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("download clip: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("clip export returned status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".clip-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.ReadFrom(resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("write clip: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *nvrSource) newRequest(ctx context.Context, path string, query url.Values) (*http.Request, error) {
	u := s.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", s.apiKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (s *nvrSource) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := s.newRequest(ctx, path, query)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("nvr request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nvr %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode nvr response: %w", err)
	}
	return nil
}
