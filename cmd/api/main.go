package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/TheRealDuckers/the-hackers/internal/app"
	"github.com/TheRealDuckers/the-hackers/internal/config"
	"github.com/TheRealDuckers/the-hackers/internal/logging"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		logging.New("error", "json").Error(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "failed to initialize", "error", err)
		os.Exit(1)
	}
	lambda.Start(application.HandleRequest)
}
