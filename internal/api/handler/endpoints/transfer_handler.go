package endpoints

import (
	"crypto/subtle"
	"net/http"
	"time"

	"transfer"
	"transfer/internal/api/handler/middleware"
	"transfer/internal/api/handler/request"
	"transfer/internal/api/handler/response"
	"transfer/internal/api/service"
	"transfer/internal/engine"
	"transfer/internal/realtime"
	"transfer/internal/solid"
	"transfer/pkg"

	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type transferHandler struct {
	machine      *engine.Machine
	configs      *service.ConfigurationService
	solidSession *solid.Session
	hub          *realtime.Hub
	logger       zerolog.Logger
	config       transfer.AppConfig
}

// TransferHandler registers the UI-facing routes: session minting, pipeline
// selection and execution, pod file actions and the WebSocket state stream.
func TransferHandler(router *graceful.Graceful, machine *engine.Machine, configs *service.ConfigurationService, solidSession *solid.Session, hub *realtime.Hub) {
	h := &transferHandler{
		machine:      machine,
		configs:      configs,
		solidSession: solidSession,
		hub:          hub,
		logger:       transfer.Logger,
		config:       transfer.GetConfig(),
	}

	open := router.Group("/api")
	{
		open.POST("/session", h.createSession)
		open.GET("/solid/callback", h.solidCallback)
	}

	router.GET("/ws", func(c *gin.Context) {
		realtime.ServeWS(h.hub, h.config.JWTConfig.Secret, c.Writer, c.Request)
	})

	protected := router.Group("/api")
	protected.Use(middleware.AuthMiddleware(h.config))
	{
		protected.GET("/state", h.state)
		protected.GET("/pipelines", h.pipelines)
		protected.POST("/pipelines/select", h.selectPipeline)
		protected.POST("/pipelines/execute", h.execute)
		protected.POST("/solid/fetch", h.solidFetch)
		protected.POST("/solid/clear", h.solidClear)
		protected.POST("/logout", h.logout)
	}
}

func (slf *transferHandler) createSession(c *gin.Context) {
	var createDTO request.CreateSession

	if err := pkg.ParseAndValidate(c, &createDTO); err != nil {
		slf.logger.Error().Err(err).Msg("Error parsing and validating session DTO")
		c.JSON(http.StatusBadRequest, response.APIError{Message: err.Error()})
		return
	}

	if subtle.ConstantTimeCompare([]byte(createDTO.AccessKey), []byte(slf.config.UIAccessKey)) != 1 {
		c.JSON(http.StatusUnauthorized, response.APIError{Message: "Invalid access key"})
		return
	}

	sessionID := uuid.NewString()
	token, err := pkg.CreateToken(sessionID, "ui", slf.config.JWTConfig.Secret, time.Duration(slf.config.JWTConfig.Expiration)*time.Minute)
	if err != nil {
		slf.logger.Error().Err(err).Msg("Error minting session token")
		c.JSON(http.StatusInternalServerError, response.APIError{Message: "Could not create session"})
		return
	}

	c.JSON(http.StatusCreated, response.Session{SessionID: sessionID, Token: token})
}

func (slf *transferHandler) state(c *gin.Context) {
	c.JSON(http.StatusOK, slf.machine.State())
}

func (slf *transferHandler) pipelines(c *gin.Context) {
	records, err := slf.configs.Records(c.Request.Context())
	if err != nil {
		slf.logger.Error().Err(err).Msg("Error loading configuration records")
		c.JSON(http.StatusInternalServerError, response.APIError{Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, response.Pipelines{Pipelines: slf.configs.PipelineOptions(records)})
}

func (slf *transferHandler) selectPipeline(c *gin.Context) {
	var selectDTO request.SelectPipeline

	if err := pkg.ParseAndValidate(c, &selectDTO); err != nil {
		slf.logger.Error().Err(err).Msg("Error parsing and validating selection DTO")
		c.JSON(http.StatusBadRequest, response.APIError{Message: err.Error()})
		return
	}

	slf.machine.SelectPipeline(selectDTO.ID)
	c.Status(http.StatusAccepted)
}

func (slf *transferHandler) execute(c *gin.Context) {
	slf.machine.Execute()
	c.Status(http.StatusAccepted)
}

func (slf *transferHandler) solidFetch(c *gin.Context) {
	data, err := slf.machine.SolidFetch(c.Request.Context())
	if err != nil {
		slf.logger.Error().Err(err).Msg("Error fetching pod data")
		c.JSON(http.StatusBadGateway, response.APIError{Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, response.SolidData{Data: data})
}

func (slf *transferHandler) solidClear(c *gin.Context) {
	if err := slf.machine.SolidClear(c.Request.Context()); err != nil {
		slf.logger.Error().Err(err).Msg("Error clearing pod data")
		c.JSON(http.StatusBadGateway, response.APIError{Message: err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

func (slf *transferHandler) logout(c *gin.Context) {
	if err := slf.machine.Logout(c.Request.Context()); err != nil {
		slf.logger.Error().Err(err).Msg("Error during logout")
		c.JSON(http.StatusBadGateway, response.APIError{Message: err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

func (slf *transferHandler) solidCallback(c *gin.Context) {
	state := c.Query("state")
	code := c.Query("code")

	if err := slf.solidSession.HandleCallback(c.Request.Context(), state, code); err != nil {
		slf.logger.Error().Err(err).Msg("Solid login callback failed")
		c.JSON(http.StatusUnauthorized, response.APIError{Message: err.Error()})
		return
	}

	c.String(http.StatusOK, "Solid login completed, you can close this window.")
}
