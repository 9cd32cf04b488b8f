// Command server runs the API locally behind gin, translating requests to
// the API Gateway events the Lambda handler expects.
package main

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"os"
	"strconv"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"

	"github.com/TheRealDuckers/the-hackers/internal/app"
	"github.com/TheRealDuckers/the-hackers/internal/config"
	"github.com/TheRealDuckers/the-hackers/internal/logging"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		logging.New("error", "text").Error(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "failed to initialize", "error", err)
		os.Exit(1)
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.NoRoute(func(c *gin.Context) {
		serveLambda(c, application)
	})

	addr := ":" + strconv.Itoa(cfg.Port)
	log.Info(ctx, "starting local server", "addr", addr, "dev_mode", cfg.DevMode)
	if err := r.Run(addr); err != nil {
		log.Error(ctx, "server stopped", "error", err)
		os.Exit(1)
	}
}

func serveLambda(c *gin.Context, application *app.App) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "failed to read body")
		return
	}

	req := events.APIGatewayProxyRequest{
		Path:                  c.Request.URL.Path,
		HTTPMethod:            c.Request.Method,
		Headers:               make(map[string]string),
		MultiValueHeaders:     c.Request.Header,
		QueryStringParameters: make(map[string]string),
		Body:                  string(body),
	}
	for k, v := range c.Request.Header {
		req.Headers[k] = v[0]
	}
	for k, v := range c.Request.URL.Query() {
		req.QueryStringParameters[k] = v[0]
	}
	if !utf8.Valid(body) {
		req.Body = base64.StdEncoding.EncodeToString(body)
		req.IsBase64Encoded = true
	}

	resp, err := application.HandleRequest(c.Request.Context(), req)
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}

	for k, v := range resp.Headers {
		c.Header(k, v)
	}
	for k, vs := range resp.MultiValueHeaders {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Status(resp.StatusCode)
	_, _ = c.Writer.Write([]byte(resp.Body))
}
