package main

import (
	"github.com/OFFIS-RIT/agentkg/internal/server"
	"github.com/OFFIS-RIT/agentkg/internal/util"
	"github.com/OFFIS-RIT/agentkg/pkg/logger"
	"github.com/OFFIS-RIT/agentkg/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		JSON:   util.GetEnv("LOG_FORMAT") == "json",
		Prefix: "server",
	})
	logger.Init(consoleLogger)

	server.Init()
}
