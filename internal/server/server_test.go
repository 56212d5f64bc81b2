package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/camwatch/internal/blob"
	"codeberg.org/mutker/camwatch/internal/capture"
	"codeberg.org/mutker/camwatch/internal/directory"
	"codeberg.org/mutker/camwatch/internal/history"
	"codeberg.org/mutker/camwatch/internal/logger"
	"codeberg.org/mutker/camwatch/internal/server"
	"codeberg.org/mutker/camwatch/internal/store"
	"codeberg.org/mutker/camwatch/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	api       *httptest.Server
	directory directory.Directory
	readings  telemetry.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger.Init(false, false, false)

	tempDir := t.TempDir()
	db, err := store.Open(filepath.Join(tempDir, "camwatch.db"), logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	blobs, err := blob.NewStore(filepath.Join(tempDir, "uploads"))
	require.NoError(t, err)

	dir := directory.NewRepository(db, logger.Default())
	readings := telemetry.NewRepository(db, logger.Default())
	photos := capture.NewService(
		dir,
		capture.NewCache(nil),
		capture.NewClient(logger.Default()),
		blobs,
		2*time.Second,
		logger.Default(),
	)
	archiver := history.NewRepository(db, blobs, logger.Default())

	srv := server.New(dir, readings, photos, archiver, blobs.Dir(), logger.Default())
	api := httptest.NewServer(srv.Handler())
	t.Cleanup(api.Close)

	return &fixture{api: api, directory: dir, readings: readings}
}

func (f *fixture) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(f.api.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestRegisterDevice(t *testing.T) {
	f := newFixture(t)

	resp := f.postJSON(t, "/api/register-device", map[string]string{"hardware_identity": "AA:BB:CC"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON[map[string]any](t, resp)
	assert.Equal(t, float64(1), body["id"])
	assert.Equal(t, "Camera 1", body["name"])

	// Same identity resolves to the same record
	resp = f.postJSON(t, "/api/register-device", map[string]string{"hardware_identity": "AA:BB:CC"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeJSON[map[string]any](t, resp)
	assert.Equal(t, float64(1), body["id"])
}

func TestRegisterDeviceLegacyField(t *testing.T) {
	f := newFixture(t)

	resp := f.postJSON(t, "/api/register-device", map[string]string{"mac_address": "AA:BB:CC"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON[map[string]any](t, resp)
	assert.Equal(t, "Camera 1", body["name"])
}

func TestRegisterDeviceMissingIdentity(t *testing.T) {
	f := newFixture(t)

	resp := f.postJSON(t, "/api/register-device", map[string]string{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSensorUpload(t *testing.T) {
	f := newFixture(t)

	resp := f.postJSON(t, "/api/register-device", map[string]string{"hardware_identity": "AA:BB:CC"})
	resp.Body.Close()

	resp = f.postJSON(t, "/api/sensor-upload", map[string]any{
		"camera_id": 1, "temperature": 29.0, "humidity": 40.0,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestSensorUploadUnknownDevice(t *testing.T) {
	f := newFixture(t)

	resp := f.postJSON(t, "/api/sensor-upload", map[string]any{
		"camera_id": 99, "temperature": 20.0, "humidity": 50.0,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSensorUploadMissingFields(t *testing.T) {
	f := newFixture(t)

	resp := f.postJSON(t, "/api/sensor-upload", map[string]any{"camera_id": 1})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDataRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	device, err := f.directory.ResolveOrRegister(ctx, "AA:BB:CC", "1.2.3.4")
	require.NoError(t, err)
	for _, temp := range []float64{18, 21, 24} {
		require.NoError(t, f.readings.Append(ctx, device.ID, temp, 50))
	}

	resp, err := http.Get(f.api.URL + "/api/data?camera_id=1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := decodeJSON[[]map[string]any](t, resp)
	require.Len(t, data, 3)
	assert.Equal(t, 18.0, data[0]["temperature"], "Readings must be chronological, oldest first")
	assert.Equal(t, 24.0, data[2]["temperature"])

	req, err := http.NewRequest(http.MethodDelete, f.api.URL+"/api/data?camera_id=1", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)

	cleared := decodeJSON[map[string]any](t, resp)
	assert.Equal(t, float64(3), cleared["removed"])
}

func TestPhotosEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var hits int32
	camera := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/capture", r.URL.Path)
		atomic.AddInt32(&hits, 1)
		time.Sleep(100 * time.Millisecond) // hold so concurrent fetches overlap
		w.Write([]byte{0xFF, 0xD8})        //nolint:errcheck
	}))
	defer camera.Close()

	// Device reboot: same identity, now reachable at the fake camera
	device, err := f.directory.ResolveOrRegister(ctx, "AA:BB:CC", camera.URL)
	require.NoError(t, err)
	require.NoError(t, f.readings.Append(ctx, device.ID, 29, 40))

	assert.Equal(t, 5*time.Second, capture.RefreshInterval(29))

	urls := make([]string, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Get(f.api.URL + "/api/photos?camera_id=1")
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()
			var photos []map[string]string
			if assert.NoError(t, json.NewDecoder(resp.Body).Decode(&photos)) && assert.Len(t, photos, 1) {
				urls[i] = photos[0]["url"]
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&hits),
		"Concurrent photo requests must collapse onto one capture")
	assert.Equal(t, urls[0], urls[1], "Both requests must receive the same photo reference")
	assert.True(t, strings.HasPrefix(urls[0], "/uploads/cam1_"), "Got %q", urls[0])

	// The stored capture is served back through the static route
	resp, err := http.Get(f.api.URL + urls[0])
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPhotosUnknownDevice(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.api.URL + "/api/photos?camera_id=42")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPhotosPlaceholderWhenDeviceDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	camera := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	address := camera.URL
	camera.Close()

	_, err := f.directory.ResolveOrRegister(ctx, "AA:BB:CC", address)
	require.NoError(t, err)

	resp, err := http.Get(f.api.URL + "/api/photos?camera_id=1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, "Capture failures degrade, they do not error")

	photos := decodeJSON[[]map[string]string](t, resp)
	require.Len(t, photos, 1)
	assert.Equal(t, capture.PlaceholderUnreachable, photos[0]["url"])
}

func TestHistoryLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.directory.ResolveOrRegister(ctx, "AA:BB:CC", "1.2.3.4")
	require.NoError(t, err)

	resp := f.postJSON(t, "/api/save-history", map[string]any{
		"camera_id":   1,
		"chart_image": "data:image/png;base64,cG5nLWJ5dGVz",
		"photo_url":   "/uploads/cam1_x.jpg",
		"sensor_data": map[string]any{"temperature": 24.5},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	saved := decodeJSON[map[string]any](t, resp)
	id := int64(saved["id"].(float64))

	resp, err = http.Get(f.api.URL + "/api/history?camera_id=1")
	require.NoError(t, err)
	items := decodeJSON[[]map[string]any](t, resp)
	require.Len(t, items, 1)
	assert.Contains(t, items[0]["chart_image"], "/uploads/chart_cam1_")
	assert.Equal(t, "/uploads/cam1_x.jpg", items[0]["photo_image"])

	photos, ok := items[0]["photos"].([]any)
	require.True(t, ok)
	require.Len(t, photos, 1)

	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/history/%d", f.api.URL, id), nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.api.URL + "/api/history?camera_id=1")
	require.NoError(t, err)
	items = decodeJSON[[]map[string]any](t, resp)
	assert.Empty(t, items)
}

func TestHistoryDeleteUnknown(t *testing.T) {
	f := newFixture(t)

	req, err := http.NewRequest(http.MethodDelete, f.api.URL+"/api/history/42", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCameraListAndUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.directory.ResolveOrRegister(ctx, "AA:BB:CC", "1.2.3.4")
	require.NoError(t, err)

	resp, err := http.Get(f.api.URL + "/api/cameras")
	require.NoError(t, err)
	cameras := decodeJSON[[]map[string]any](t, resp)
	require.Len(t, cameras, 1)
	assert.Equal(t, "Camera 1", cameras[0]["name"])

	payload, err := json.Marshal(map[string]string{"name": "Greenhouse", "location": "North"})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, f.api.URL+"/api/cameras/1", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.api.URL + "/api/cameras")
	require.NoError(t, err)
	cameras = decodeJSON[[]map[string]any](t, resp)
	assert.Equal(t, "Greenhouse", cameras[0]["name"])
	assert.Equal(t, "North", cameras[0]["location"])
}
