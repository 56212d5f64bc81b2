package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/camwatch/internal/errors"
	"codeberg.org/mutker/camwatch/internal/history"
	"github.com/gin-gonic/gin"
)

const timestampFormat = "2006-01-02 15:04:05"

type registerDeviceRequest struct {
	HardwareIdentity string `json:"hardware_identity"`
	// Legacy field name still sent by older camera firmware
	MACAddress string `json:"mac_address"`
}

type sensorUploadRequest struct {
	CameraID    *int64   `json:"camera_id" binding:"required"`
	Temperature *float64 `json:"temperature" binding:"required"`
	Humidity    *float64 `json:"humidity" binding:"required"`
}

type saveHistoryRequest struct {
	CameraID   *int64          `json:"camera_id" binding:"required"`
	ChartImage string          `json:"chart_image"`
	PhotoURL   string          `json:"photo_url"`
	Photos     []photoPayload  `json:"photos"`
	SensorData json.RawMessage `json:"sensor_data"`
}

type photoPayload struct {
	URL       string `json:"url"`
	Timestamp int64  `json:"timestamp"`
}

type updateCameraRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "camwatch"})
}

func (s *Server) handleRegisterDevice(c *gin.Context) {
	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, errors.New().Wrap(errors.ErrValidationFailed, err))
		return
	}

	identity := req.HardwareIdentity
	if identity == "" {
		identity = req.MACAddress
	}

	device, err := s.directory.ResolveOrRegister(c.Request.Context(), identity, c.ClientIP())
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": device.ID, "name": device.Name})
}

func (s *Server) handleSensorUpload(c *gin.Context) {
	var req sensorUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, errors.New().Wrap(errors.ErrValidationFailed, err))
		return
	}

	if err := s.readings.Append(c.Request.Context(), *req.CameraID, *req.Temperature, *req.Humidity); err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Data received"})
}

func (s *Server) handleListData(c *gin.Context) {
	deviceID, ok := s.queryDeviceID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	readings, err := s.readings.Recent(c.Request.Context(), deviceID, limit)
	if err != nil {
		s.renderError(c, err)
		return
	}

	out := make([]gin.H, 0, len(readings))
	for _, reading := range readings {
		out = append(out, gin.H{
			"id":          reading.ID,
			"temperature": reading.Temperature,
			"humidity":    reading.Humidity,
			"timestamp":   reading.Timestamp.Format(timestampFormat),
		})
	}

	c.JSON(http.StatusOK, out)
}

func (s *Server) handleClearData(c *gin.Context) {
	deviceID, ok := s.queryDeviceID(c)
	if !ok {
		return
	}

	removed, err := s.readings.Clear(c.Request.Context(), deviceID)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Cleared", "removed": removed})
}

func (s *Server) handlePhotos(c *gin.Context) {
	deviceID, ok := s.queryDeviceID(c)
	if !ok {
		return
	}

	url, err := s.photos.Fetch(c.Request.Context(), deviceID)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, []gin.H{{"url": url}})
}

func (s *Server) handleSaveHistory(c *gin.Context) {
	var req saveHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, errors.New().Wrap(errors.ErrValidationFailed, err))
		return
	}

	chartPNG, err := decodeChartImage(req.ChartImage)
	if err != nil {
		s.renderError(c, err)
		return
	}

	photos := make([]history.Photo, 0, len(req.Photos))
	for _, photo := range req.Photos {
		photos = append(photos, history.Photo{
			URL:       photo.URL,
			Timestamp: time.Unix(photo.Timestamp, 0),
		})
	}
	if len(photos) == 0 && req.PhotoURL != "" {
		photos = append(photos, history.Photo{URL: req.PhotoURL, Timestamp: time.Now()})
	}

	snapshot, err := s.archiver.Save(c.Request.Context(), *req.CameraID, chartPNG, req.SensorData, req.PhotoURL, photos)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Saved", "id": snapshot.ID})
}

func (s *Server) handleListHistory(c *gin.Context) {
	var deviceID *int64
	if raw := c.Query("camera_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.renderError(c, errors.New().Wrap(errors.ErrValidationFailed, err))
			return
		}
		deviceID = &id
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	snapshots, err := s.archiver.List(c.Request.Context(), deviceID, limit)
	if err != nil {
		s.renderError(c, err)
		return
	}

	out := make([]gin.H, 0, len(snapshots))
	for _, snapshot := range snapshots {
		photos := make([]gin.H, 0, len(snapshot.Photos))
		for _, photo := range snapshot.Photos {
			photos = append(photos, gin.H{
				"url":       photo.URL,
				"timestamp": photo.Timestamp.Format(timestampFormat),
			})
		}

		var sensorData any
		if len(snapshot.SensorData) > 0 {
			sensorData = json.RawMessage(snapshot.SensorData)
		}

		entry := gin.H{
			"id":          snapshot.ID,
			"camera_id":   snapshot.DeviceID,
			"chart_image": "/uploads/" + snapshot.ChartImage,
			"photos":      photos,
			"sensor_data": sensorData,
			"timestamp":   snapshot.CreatedAt.Format(timestampFormat),
		}
		if snapshot.PrimaryPhoto != "" {
			entry["photo_image"] = snapshot.PrimaryPhoto
		}
		out = append(out, entry)
	}

	c.JSON(http.StatusOK, out)
}

func (s *Server) handleDeleteHistory(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		s.renderError(c, errors.New().Wrap(errors.ErrValidationFailed, err))
		return
	}

	if err := s.archiver.Delete(c.Request.Context(), id); err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Deleted"})
}

func (s *Server) handleListCameras(c *gin.Context) {
	devices, err := s.directory.List(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}

	out := make([]gin.H, 0, len(devices))
	for _, device := range devices {
		out = append(out, gin.H{
			"id":         device.ID,
			"name":       device.Name,
			"ip_address": device.NetworkAddress,
			"location":   device.Location,
		})
	}

	c.JSON(http.StatusOK, out)
}

func (s *Server) handleUpdateCamera(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		s.renderError(c, errors.New().Wrap(errors.ErrValidationFailed, err))
		return
	}

	var req updateCameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, errors.New().Wrap(errors.ErrValidationFailed, err))
		return
	}

	if err := s.directory.Rename(c.Request.Context(), id, req.Name, req.Location); err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Camera updated"})
}

func (s *Server) queryDeviceID(c *gin.Context) (int64, bool) {
	raw := c.DefaultQuery("camera_id", "1")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.renderError(c, errors.New().Wrap(errors.ErrValidationFailed, err))
		return 0, false
	}

	return id, true
}

// Dashboards send the chart as a data URL; older ones send bare base64
func decodeChartImage(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}

	if idx := strings.IndexByte(encoded, ','); idx >= 0 {
		encoded = encoded[idx+1:]
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrValidationFailed, err)
	}

	return data, nil
}
