// Package server is the thin HTTP façade over the device directory,
// the telemetry store, the capture service and the history archiver.
package server

import (
	"net/http"

	"codeberg.org/mutker/camwatch/internal/capture"
	"codeberg.org/mutker/camwatch/internal/directory"
	"codeberg.org/mutker/camwatch/internal/errors"
	"codeberg.org/mutker/camwatch/internal/history"
	"codeberg.org/mutker/camwatch/internal/logger"
	"codeberg.org/mutker/camwatch/internal/telemetry"
	"github.com/gin-gonic/gin"
)

type Server struct {
	engine    *gin.Engine
	directory directory.Directory
	readings  telemetry.Store
	photos    *capture.Service
	archiver  history.Archiver
	log       logger.Logger
}

func New(dir directory.Directory, readings telemetry.Store, photos *capture.Service, archiver history.Archiver, uploadsDir string, log logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine:    gin.New(),
		directory: dir,
		readings:  readings,
		photos:    photos,
		archiver:  archiver,
		log:       log,
	}

	s.engine.Use(gin.Recovery())
	s.routes(uploadsDir)

	return s
}

// Handler exposes the router for http.Server and tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes(uploadsDir string) {
	api := s.engine.Group("/api")
	api.GET("/health", s.handleHealth)

	// Device-facing
	api.POST("/register-device", s.handleRegisterDevice)
	api.POST("/sensor-upload", s.handleSensorUpload)

	// Dashboard-facing
	api.GET("/data", s.handleListData)
	api.DELETE("/data", s.handleClearData)
	api.GET("/photos", s.handlePhotos)
	api.POST("/save-history", s.handleSaveHistory)
	api.GET("/history", s.handleListHistory)
	api.DELETE("/history/:id", s.handleDeleteHistory)
	api.GET("/cameras", s.handleListCameras)
	api.PUT("/cameras/:id", s.handleUpdateCamera)

	s.engine.Static("/uploads", uploadsDir)
}

// renderError maps domain error codes to HTTP statuses
func (s *Server) renderError(c *gin.Context, err error) {
	code := errors.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case errors.ErrDeviceNotFound, errors.ErrResourceNotFound:
		status = http.StatusNotFound
	case errors.ErrValidationFailed, errors.ErrInvalidArgument:
		status = http.StatusBadRequest
	case errors.ErrDeviceUnreachable, errors.ErrCaptureFailed:
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		s.log.Error().
			Str("error_code", string(code)).
			Err(err).
			Msg("Request failed")
	}

	c.JSON(status, gin.H{
		"error": errors.GetErrorMessage(code),
		"code":  string(code),
	})
}
